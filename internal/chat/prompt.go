package chat

import (
	"github.com/nurbua/Image-Insight/internal/assets"
	"github.com/nurbua/Image-Insight/internal/filehandler"
	"google.golang.org/genai"
)

// ExcerptCount is the exact number of literary excerpts requested per image.
const ExcerptCount = 2

// AnalysisPrompt pairs the instruction sent with the image and the response
// schema that constrains the model's JSON output.
type AnalysisPrompt struct {
	Instruction string
	Schema      *genai.Schema
}

// HasGPS reports whether the prompt was composed for an image with coordinates.
// A location that may be null is the signature of the no-GPS branch.
func (p AnalysisPrompt) HasGPS() bool {
	if p.Schema == nil {
		return false
	}
	loc := p.Schema.Properties["location"]
	return loc != nil && (loc.Nullable == nil || !*loc.Nullable)
}

// ComposeAnalysisPrompt builds the instruction and schema for one image.
// It is pure: the same GPS input always yields the same prompt.
func ComposeAnalysisPrompt(gps *filehandler.GPS) AnalysisPrompt {
	data := assets.AnalysisPromptData{}
	if gps != nil {
		data = assets.AnalysisPromptData{
			HasGPS:    true,
			Latitude:  gps.Latitude,
			Longitude: gps.Longitude,
		}
	}

	return AnalysisPrompt{
		Instruction: assets.RenderAnalysisPrompt(data),
		Schema:      analysisSchema(data.HasGPS),
	}
}

// analysisSchema describes {titles, captions, excerpts, location}. Location is
// always required; whether it may be null follows the GPS branch.
func analysisSchema(hasGPS bool) *genai.Schema {
	stringArray := func(description string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeArray,
			Description: description,
			Items:       &genai.Schema{Type: genai.TypeString},
		}
	}

	excerpt := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"extrait":    {Type: genai.TypeString, Description: "Texte de l'extrait dans sa langue d'origine"},
			"auteur":     {Type: genai.TypeString},
			"oeuvre":     {Type: genai.TypeString},
			"traduction": {Type: genai.TypeString, Description: "Traduction française, chaîne vide si l'extrait est en français"},
		},
		Required:         []string{"extrait", "auteur", "oeuvre", "traduction"},
		PropertyOrdering: []string{"extrait", "auteur", "oeuvre", "traduction"},
	}

	location := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"city":    {Type: genai.TypeString},
			"region":  {Type: genai.TypeString},
			"country": {Type: genai.TypeString},
		},
		PropertyOrdering: []string{"city", "region", "country"},
		Nullable:         genai.Ptr(!hasGPS),
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"titles":   stringArray("2 à 3 titres créatifs"),
			"captions": stringArray("2 à 3 légendes"),
			"excerpts": {
				Type:     genai.TypeArray,
				Items:    excerpt,
				MinItems: genai.Ptr[int64](ExcerptCount),
				MaxItems: genai.Ptr[int64](ExcerptCount),
			},
			"location": location,
		},
		Required:         []string{"titles", "captions", "excerpts", "location"},
		PropertyOrdering: []string{"titles", "captions", "excerpts", "location"},
	}
}
