package s3util

import (
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
)

const projectName = "image-insight"

// objectTagging returns the URL-encoded tag set for an object of the given
// kind. Project drives cost allocation; Kind lets lifecycle rules target
// uploads separately from anything else in the bucket.
func objectTagging(kind string) *string {
	v := url.Values{}
	v.Set("Project", projectName)
	v.Set("Kind", kind)
	return aws.String(v.Encode())
}
