package prompt

import "github.com/rcliao/agriplan/internal/model"

type label struct {
	field string
	text  string
}

// listFields hold one item per line. Each item is budgeted on its own.
var listFields = map[string]bool{
	"environmental.forecast": true,
	"environmental.alerts":   true,
}

// section is the formatting rule for one variant. Known fields render in
// this order; any other field follows sorted by name.
type section struct {
	header string
	fields []label
}

var sections = map[model.Variant]section{
	model.Geographic: {
		header: "Plot & Soil",
		fields: []label{
			{"name", "Plot name"},
			{"lat", "Latitude"},
			{"lon", "Longitude"},
			{"area_mu", "Planted area (mu)"},
			{"soil_ph", "Soil pH"},
			{"soil_organic_matter", "Soil organic matter"},
			{"soil_notes", "Soil notes"},
		},
	},
	model.Environmental: {
		header: "Weather",
		fields: []label{
			{"horizon_days", "Forecast horizon (days)"},
			{"forecast", "Forecast"},
			{"alerts", "Weather alerts"},
		},
	},
	model.Crop: {
		header: "Crop",
		fields: []label{
			{"crop_type", "Crop type"},
			{"variety", "Variety"},
		},
	},
	model.Visual: {
		header: "Crop Image",
		fields: []label{
			{"filename", "Image file"},
			{"image", "Image"},
			{"image_summary", "Image summary"},
			{"growth_analysis", "Growth analysis"},
			{"disease_detection", "Disease detection"},
		},
	},
	model.Goal: {
		header: "Planting Goal",
		fields: []label{
			{"start_date", "Planting start date"},
			{"end_date", "Expected harvest date"},
			{"seed_type", "Seed / seedlings"},
			{"fertilizer", "Fertilizer"},
			{"irrigation", "Irrigation method"},
			{"target_yield", "Target yield"},
			{"notes", "Notes"},
		},
	},
}

// DefaultSystem is the system message sent with every stage.
const DefaultSystem = "You are an expert agronomist assistant, answer clearly and concisely."

type stageText struct {
	preamble     string
	requirements string
}

var stageTexts = map[model.Stage]stageText{
	model.Part1: {
		preamble: "You are an intelligent agricultural planning assistant with strong domain knowledge. " +
			"Based on the following context, generate a practical, low-intervention and climate-aware overall planting plan.",
		requirements: `Output in English with a clear, structured layout. Use bullet points or numbered lists where appropriate. Cover:
1. Crop Suitability Analysis: whether the environment supports planting, considering soil, climate and history.
2. Suggested Sowing Period: a suitable sowing window with brief justification.
3. Planting Method: spacing, density and auxiliary needs (mulch, greenhouse).
4. Key Growth Phase Management: key activities per stage (seedling, elongation, heading).
5. Risks & Cautions: risks such as extreme weather or poor drainage, without exaggeration.
6. Intervention Recommendations: only necessary manual actions. If none, state "No extra intervention is required at this stage."
7. Conclusion: a short summary suitable for implementation.
Avoid unnecessary complexity. Do not recommend specific commercial products unless asked.`,
	},
	model.Part2: {
		preamble: "You are an expert agricultural grower. Develop a day-by-day farm operation plan based on the following information.",
		requirements: `Output in English as a day-by-day calendar. For each day give:
1. Date.
2. Weather: a brief statement using the forecast above, do not infer.
3. Key Operation: the main task (soil preparation, irrigation, transplanting, fertilization).
4. Caution: concerns based on weather or growth stage.
5. Manual Intervention: only necessary operations. If none, write "No manual operation required today."
Keep each day to one short paragraph. Tailor the plan to crop stage, soil and weather; do not recommend unnecessary tasks.`,
	},
	model.Part3: {
		preamble: "You are a farm advisor. Answer the farmer's question using the context below.",
		requirements: `Answer in English, in 2-3 well-written paragraphs or bullet points:
1. Grounded Reasoning: refer to the known context (crop, soil, weather, prior plans). Do not fabricate.
2. Image Understanding: if a crop image is provided, include a section "Image Diagnosis" describing growth, possible symptoms and an action or "No visible issue."
3. Farmer-Friendly Language: accurate yet easy to follow.
4. Avoid Over-intervention: recommend manual intervention only if necessary, otherwise say "No intervention needed for now."
5. Link to Current Stage: keep suggestions consistent with the growth stage and prior planning.`,
	},
}
