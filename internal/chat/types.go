package chat

// LiteraryExcerpt is one quotation the model associates with the image.
// Translation is empty, never absent, when the excerpt is already in French.
type LiteraryExcerpt struct {
	Excerpt     string `json:"extrait" dynamodbav:"extrait"`
	Author      string `json:"auteur" dynamodbav:"auteur"`
	Work        string `json:"oeuvre" dynamodbav:"oeuvre"`
	Translation string `json:"traduction" dynamodbav:"traduction"`
}

// LocationInfo is the reverse-geocoded shooting place. At least one field is
// non-empty; an all-empty answer is reported as a nil *LocationInfo.
type LocationInfo struct {
	City    string `json:"city,omitempty" dynamodbav:"city,omitempty"`
	Region  string `json:"region,omitempty" dynamodbav:"region,omitempty"`
	Country string `json:"country,omitempty" dynamodbav:"country,omitempty"`
}

// IsZero reports whether no field is populated.
func (l LocationInfo) IsZero() bool {
	return l == LocationInfo{}
}

// AnalysisResult is the creative output of one analysis call.
type AnalysisResult struct {
	Titles   []string          `json:"titles" dynamodbav:"titles"`
	Captions []string          `json:"captions" dynamodbav:"captions"`
	Excerpts []LiteraryExcerpt `json:"excerpts" dynamodbav:"excerpts"`
	Location *LocationInfo     `json:"location" dynamodbav:"location"`
}

// Role identifies the author of a conversation turn as Gemini sees it.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior message replayed to the model as history.
type Turn struct {
	Role Role
	Text string
}
