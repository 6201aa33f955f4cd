package llm

import (
	"strings"
)

// ClinicalTrialSystemPrompt is the system message sent with every extraction.
const ClinicalTrialSystemPrompt = "You are a medical research data extraction expert. " +
	"Extract structured clinical trial data from research articles in valid JSON format."

// PromptInput is the article content embedded in the extraction prompt.
type PromptInput struct {
	Title    string
	Abstract string
	PMCID    string
}

// schemaField is one key of the requested JSON object and its instruction.
type schemaField struct {
	key  string
	hint string
}

// clinicalTrialSchema lists the response keys in the order they are requested.
// pmcid and title are echoed with the caller's values.
var clinicalTrialSchema = []schemaField{
	{"firstAuthor", `"string"`},
	{"year", `number`},
	{"reference", `"string"`},
	{"reportType", `"string (e.g., Clinical Trial, Systematic Review, Meta-analysis)"`},
	{"diseaseSite", `"string - For multiple cancer sites, list separately (e.g., 'Cervical cancer; Vaginal cancer')"`},
	{"histopathology", `"string"`},
	{"tnmStage", `"string - Use standard TNM notation (T1-4, N0-3, M0-1) or 'Not specified' if FIGO/other staging systems are used"`},
	{"overallStage", `"string - For FIGO staging, specify by cancer type (e.g., 'Cervical: IB2, IIA, IIB, IIIB, IVA; Vaginal: II, III, IV'). Include nodal involvement details."`},
	{"dateRange", `"string"`},
	{"trialArms", `"string - Format as 'Arm1 = [description]\nArm2 = [description]' with newlines between arms"`},
	{"patientNumbers", `"string - Format as 'Arm1 = [number] patients\nArm2 = [number] patients' or 'Total = [number] patients' if not broken down by arm"`},
	{"medianFollowUp", `"string - Duration of follow-up (e.g., '5.2 years', '36 months', 'Not specified')"`},
	{"primaryOutcome", `"string"`},
	{"secondaryOutcomes", `"string"`},
	{"statistics", `"string - For each outcome, format as: 'Outcome: [name]\nArm1 - [result]\nArm2 - [result]\n[statistical comparison with HR, p-value, etc.]'"`},
	{"additionalNotes", `"string"`},
}

const formattingRules = `IMPORTANT FORMATTING RULES:
- For Trial Arms: When multiple treatment arms exist, format as "Arm1 = [description]\nArm2 = [description]" with each arm on a new line
- For Statistics: Format as follows:
  * Start with "Primary Outcome: [outcome description]"
  * Then "Arm1 - [result]\nArm2 - [result]\n[statistical comparison]"
  * For secondary outcomes: "Secondary Outcomes:\n[Outcome name]:\nArm1 - [result]\nArm2 - [result]\n[statistical comparison]"
- Use \n for line breaks to separate arms and outcomes clearly
- Include statistical measures like hazard ratios (HR), p-values, confidence intervals where available

Extract only the information that is explicitly mentioned in the text. Use "Not specified" for fields that cannot be determined from the available content. Respond with valid JSON only.`

// BuildClinicalTrialPrompt builds the system and user prompts for extracting a
// clinical-trial record from an article's title and abstract.
func BuildClinicalTrialPrompt(in PromptInput) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString("Analyze this medical research article and extract structured clinical trial data in JSON format. ")
	sb.WriteString("Extract the following fields:\n\n")

	sb.WriteString("{\n")
	sb.WriteString(`  "pmcid": "` + quoteInline(in.PMCID) + "\",\n")
	sb.WriteString(`  "title": "` + quoteInline(in.Title) + "\",\n")
	for i, f := range clinicalTrialSchema {
		sb.WriteString(`  "` + f.key + `": ` + f.hint)
		if i < len(clinicalTrialSchema)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	sb.WriteString("Article Title: ")
	sb.WriteString(in.Title)
	sb.WriteString("\nAbstract: ")
	sb.WriteString(in.Abstract)
	sb.WriteString("\n\n")

	sb.WriteString(formattingRules)

	return ClinicalTrialSystemPrompt, sb.String()
}

// quoteInline escapes a value embedded in the JSON template.
func quoteInline(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ")
	return r.Replace(s)
}
