package analyzers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
)

// CropImage is an uploaded crop photo plus the farmer's hints.
type CropImage struct {
	Filename string
	Data     []byte
	Prompt   string
	Crop     string
}

type CropAnalysis struct {
	Summary         string          `json:"summary"`
	Details         string          `json:"details"`
	Confidence      string          `json:"confidence"`
	QualityScore    *float64        `json:"qualityScore"`
	Issues          json.RawMessage `json:"issues"`
	Observations    json.RawMessage `json:"observations"`
	Recommendations json.RawMessage `json:"recommendations"`
	Fallback        bool            `json:"fallback,omitempty"`
}

var cropTargets = map[string][]string{
	"wheat": {"rust (stripe, leaf, stem)", "powdery mildew", "leaf blight", "aphids"},
	"rice":  {"rice blast", "bacterial leaf blight", "sheath blight", "brown planthopper"},
	"maize": {"northern leaf blight", "common rust", "gray leaf spot", "fall armyworm", "common smut"},
}

var stagePrompts = map[int]string{
	1: "Verify this is seeds/sowing stage (seed packets, seeds in soil, early seedlings).",
	2: "Verify this is growth stage (green crops, leaves, stems, field with growing plants).",
	3: "Verify this is harvest stage (harvested crop, grain, bundles, transport).",
}

// StagePrompt is the analysis prompt for milestone stage verification.
func StagePrompt(stage int) string {
	if p, ok := stagePrompts[stage]; ok {
		return p
	}
	return "Assess crop stage (seed, growth, harvest)."
}

// CropAnalyzer grades crop photos with the vision model, answering with a
// neutral default when the model is unavailable.
type CropAnalyzer struct {
	gemini *GeminiClient
	log    *slog.Logger
}

func NewCropAnalyzer(gemini *GeminiClient, logger *slog.Logger) *CropAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CropAnalyzer{gemini: gemini, log: logger.With("component", "crop_analyzer")}
}

func (a *CropAnalyzer) Analyze(ctx context.Context, img CropImage) (*CropAnalysis, error) {
	if len(img.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if !a.gemini.Configured() {
		return FallbackCropAnalysis(), nil
	}

	text, err := a.gemini.GenerateContent(ctx, cropRequest(img))
	if err == nil {
		var out *CropAnalysis
		if out, err = parseCropAnalysis(text); err == nil {
			return out, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.log.Warn("crop analysis failed, using fallback", "error", err)
	return FallbackCropAnalysis(), nil
}

func FallbackCropAnalysis() *CropAnalysis {
	q := 7.0
	return &CropAnalysis{
		Summary:         "Likely healthy",
		Details:         "Leaves appear normal. No obvious signs of damage or disease detected.",
		Confidence:      "Medium",
		QualityScore:    &q,
		Issues:          json.RawMessage("[]"),
		Observations:    json.RawMessage("[]"),
		Recommendations: json.RawMessage("[]"),
		Fallback:        true,
	}
}

func cropRequest(img CropImage) GeminiRequest {
	crop := strings.TrimSpace(img.Crop)
	targets := "common crop diseases and pests"
	if t, ok := cropTargets[strings.ToLower(crop)]; ok {
		targets = strings.Join(t, ", ")
	}
	subject := crop
	if subject == "" {
		subject = "the crop"
	}
	system := fmt.Sprintf("You are an agronomy assistant. Analyze the crop photo for health, diseases, pests, and damage. "+
		"Focus on %s and especially: %s. "+
		"Look for brown patches, holes, spots, edge burn, leaf curling, chlorosis, necrosis, webbing and insect damage. "+
		"Return strict JSON with keys: summary (string), details (string), confidence (Low|Medium|High), "+
		"qualityScore (0-10 integer: 0-3 poor, 4-6 fair, 7-8 good, 9-10 excellent), "+
		"issues (array: {name, likelihood 0-100, description}), "+
		"observations (array: {type, description, severity 0-100, confidence}), "+
		"recommendations (array of strings).", subject, targets)
	prompt := strings.TrimSpace(img.Prompt)
	if prompt == "" {
		prompt = "Assess crop condition, quality, and identify any disease or pest."
	}

	return GeminiRequest{
		Contents: []GeminiContent{{
			Parts: []GeminiPart{
				{InlineData: &GeminiInlineData{MimeType: imageMime(img.Filename), Data: base64.StdEncoding.EncodeToString(img.Data)}},
				{Text: system + "\n\n" + prompt},
			},
		}},
		GenerationConfig: &GeminiGenerationConfig{Temperature: 0.2, ResponseMimeType: "application/json"},
	}
}

func imageMime(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "image/webp"
	}
}

func parseCropAnalysis(text string) (*CropAnalysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	var out CropAnalysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if out.QualityScore != nil {
		q := math.Max(0, math.Min(10, math.Trunc(*out.QualityScore)))
		out.QualityScore = &q
	} else {
		q := 7.0
		out.QualityScore = &q
	}
	if out.Summary == "" {
		out.Summary = "Analysis available"
	}
	if out.Confidence == "" {
		out.Confidence = "Medium"
	}
	for _, field := range []*json.RawMessage{&out.Issues, &out.Observations, &out.Recommendations} {
		if len(*field) == 0 || string(*field) == "null" {
			*field = json.RawMessage("[]")
		}
	}
	return &out, nil
}
