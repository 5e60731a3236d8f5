package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "embed"

	"github.com/oppfinder/pipeline/internal/ai"
	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/model"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

//go:embed extract_prompt.md
var extractPromptTemplate string

// extraction is the decoded provider answer.
type extraction struct {
	Title             string         `mapstructure:"title"`
	Organization      *string        `mapstructure:"organization"`
	SourceURL         *string        `mapstructure:"source_url"`
	DescriptionEN     *string        `mapstructure:"description_en"`
	WorkMode          *string        `mapstructure:"work_mode"`
	EmploymentType    *string        `mapstructure:"employment_type"`
	ExperienceLevel   *string        `mapstructure:"experience_level"`
	Deadline          *string        `mapstructure:"deadline"`
	MinCompensation   *int           `mapstructure:"min_compensation"`
	MaxCompensation   *int           `mapstructure:"max_compensation"`
	ApplicantGender   *string        `mapstructure:"applicant_gender"`
	EmploymentSubtype *string        `mapstructure:"employment_subtype"`
	Compensation      map[string]any `mapstructure:"compensation"`
	Confidence        *float64       `mapstructure:"confidence"`
	Notes             *string        `mapstructure:"notes"`
}

type taxonomyChoice struct {
	typeID, domainID, specID int64
	locationID               *int64
}

type extracted struct {
	provider ai.Provider
	model    string
	data     extraction
	choice   taxonomyChoice
}

// extractWithAI asks the provider chain for a structured extraction. A reply
// with an inconsistent taxonomy counts as a failure of that provider, so the
// next one gets a chance.
func (s *Service) extractWithAI(ctx context.Context, raw *model.RawOpportunity, existing *model.Opportunity, textEN, modelName string, tax *model.Taxonomy, log *zap.Logger) (*Result, error) {
	routing := raw.RawText
	if strings.TrimSpace(routing) == "" {
		routing = textEN
	}
	chain, err := s.orderedChain(routing)
	if err != nil {
		return nil, err
	}

	prompt, err := buildExtractPrompt(tax, raw.SourceURL, textEN, s.cfg.LocationPromptLimit)
	if err != nil {
		return nil, err
	}
	log.Debug("extraction prompt built",
		zap.Int("prompt_length", len(prompt)),
		zap.Strings("chain", ai.Names(chain)),
	)

	out, _, err := ai.Run(ctx, chain, log, func(ctx context.Context, p ai.Provider) (*extracted, error) {
		res, err := p.GenerateJSON(ctx, ai.JSONRequest{
			Prompt:      prompt,
			Schema:      extractionSchema,
			Model:       modelName,
			Temperature: ai.Temperature(0),
			Context:     ai.ContextExtraction,
		})
		if err != nil {
			return nil, err
		}
		choice, err := validateTaxonomyIDs(p.Name(), res.Data, tax)
		if err != nil {
			return nil, err
		}
		var data extraction
		if err := mapstructure.Decode(res.Data, &data); err != nil {
			return nil, ai.Wrap(ai.KindPermanent, p.Name(), err, "decoding extraction")
		}
		return &extracted{provider: p, model: res.Model, data: data, choice: choice}, nil
	})
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(out.data.Title)
	if title == "" {
		return nil, ai.Validationf(out.provider.Name(), "extraction produced an empty title")
	}

	opp := existing
	if opp == nil {
		rawID := raw.ID
		opp = &model.Opportunity{RawID: &rawID, Status: model.OpportunityActive}
	}
	d := out.data

	opp.Title = title
	opp.Organization = trimmed(d.Organization)
	opp.DescriptionEN = trimmed(d.DescriptionEN)
	opp.SourceURL = trimmed(d.SourceURL)
	if opp.SourceURL == "" {
		opp.SourceURL = strings.TrimSpace(raw.SourceURL)
	}
	opp.TypeID = out.choice.typeID
	opp.DomainID = out.choice.domainID
	opp.SpecializationID = out.choice.specID
	opp.LocationID = out.choice.locationID
	opp.WorkMode = model.ParseWorkMode(trimmed(d.WorkMode))
	opp.EmploymentType = model.ParseEmploymentType(trimmed(d.EmploymentType))
	opp.ExperienceLevel = model.ParseExperienceLevel(trimmed(d.ExperienceLevel))
	opp.MinCompensation = d.MinCompensation
	opp.MaxCompensation = d.MaxCompensation
	opp.Deadline = parseISODate(trimmed(d.Deadline))
	if opp.Deadline == nil {
		opp.Deadline = ParseDeadline(textEN)
	}
	opp.PublishedAt = raw.PublishedAt

	meta := opp.Metadata.Clone()
	meta[model.MetaAI] = map[string]any{
		"provider":   out.provider.Name(),
		"model":      out.model,
		"confidence": floatOrNil(d.Confidence),
		"notes":      stringOrNil(d.Notes),
	}
	ext := meta.Section(model.MetaExtracted)
	if v := trimmed(d.ApplicantGender); v != "" {
		ext["applicant_gender"] = v
	}
	if v := trimmed(d.EmploymentSubtype); v != "" {
		ext["employment_subtype"] = v
	}
	if d.Compensation != nil {
		ext["compensation"] = map[string]any{
			"amount":   d.Compensation["amount"],
			"currency": d.Compensation["currency"],
			"period":   d.Compensation["period"],
		}
	}
	opp.Metadata = meta

	log.Debug("extraction accepted",
		logger.Provider(out.provider.Name()),
		zap.String(logger.FieldModel, out.model),
		zap.String("title", logger.TruncateForLog(title, 80)),
	)

	created, err := s.persist(ctx, raw, opp, textEN, tax)
	if err != nil {
		return nil, err
	}
	return &Result{RawID: raw.ID, OpportunityID: opp.ID, Created: created}, nil
}

// validateTaxonomyIDs checks the ids picked by the provider. Missing or
// malformed ids are permanent errors; a broken type/domain/specialization
// chain is a validation error.
func validateTaxonomyIDs(provider string, data map[string]any, tax *model.Taxonomy) (taxonomyChoice, error) {
	var c taxonomyChoice
	var err error

	if c.typeID, err = requireID(provider, data, "op_type_id"); err != nil {
		return c, err
	}
	if c.domainID, err = requireID(provider, data, "domain_id"); err != nil {
		return c, err
	}
	if c.specID, err = requireID(provider, data, "specialization_id"); err != nil {
		return c, err
	}

	if err := tax.ValidateChain(c.typeID, c.domainID, c.specID); err != nil {
		if errors.Is(err, model.ErrUnknownTaxonomy) {
			return c, ai.Wrap(ai.KindPermanent, provider, err, "extraction references unknown taxonomy")
		}
		return c, ai.Wrap(ai.KindValidation, provider, err, "invalid taxonomy")
	}

	if v, ok := data["location_id"]; ok && v != nil {
		id, ok := intID(v)
		if !ok {
			return c, ai.Permanentf(provider, "extraction field location_id must be an integer id (got %v)", v)
		}
		if _, ok := tax.Locations[id]; !ok {
			return c, ai.Permanentf(provider, "extraction field location_id references unknown location %d", id)
		}
		c.locationID = &id
	}
	return c, nil
}

func requireID(provider string, data map[string]any, key string) (int64, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return 0, ai.Permanentf(provider, "extraction missing required field %s", key)
	}
	id, ok := intID(v)
	if !ok {
		return 0, ai.Permanentf(provider, "extraction field %s must be an integer id (got %v)", key, v)
	}
	return id, nil
}

// intID accepts integral JSON numbers and numeric strings. Booleans are rejected.
func intID(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func stringOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

type promptTaxonomy struct {
	OpportunityTypes []promptType     `json:"opportunity_types"`
	Domains          []promptDomain   `json:"domains"`
	Specializations  []promptSpec     `json:"specializations"`
	Locations        []model.Location `json:"locations"`
}

type promptType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type promptDomain struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	TypeID   int64  `json:"opportunity_type_id"`
	TypeName string `json:"opportunity_type__name"`
}

type promptSpec struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	DomainID   int64  `json:"domain_id"`
	DomainName string `json:"domain__name"`
	TypeName   string `json:"domain__opportunity_type__name"`
}

func buildExtractPrompt(tax *model.Taxonomy, sourceURL, textEN string, locationLimit int) (string, error) {
	pt := promptTaxonomy{}
	for _, t := range tax.SortedTypes() {
		pt.OpportunityTypes = append(pt.OpportunityTypes, promptType{ID: t.ID, Name: t.Name})
	}
	for _, d := range tax.SortedDomains() {
		pt.Domains = append(pt.Domains, promptDomain{
			ID: d.ID, Name: d.Name, TypeID: d.TypeID, TypeName: tax.Types[d.TypeID].Name,
		})
	}
	for _, sp := range tax.SortedSpecializations() {
		d := tax.Domains[sp.DomainID]
		pt.Specializations = append(pt.Specializations, promptSpec{
			ID: sp.ID, Name: sp.Name, DomainID: sp.DomainID, DomainName: d.Name, TypeName: tax.Types[d.TypeID].Name,
		})
	}
	locations := tax.SortedLocations()
	if locationLimit > 0 && len(locations) > locationLimit {
		locations = locations[:locationLimit]
	}
	pt.Locations = locations

	taxJSON, err := json.Marshal(pt)
	if err != nil {
		return "", fmt.Errorf("encoding taxonomy for prompt: %w", err)
	}

	prompt := strings.ReplaceAll(extractPromptTemplate, "{{EXAMPLES}}", taxonomyExamples(tax))
	prompt = strings.ReplaceAll(prompt, "{{TAXONOMY_JSON}}", string(taxJSON))
	prompt = strings.ReplaceAll(prompt, "{{SOURCE_URL}}", strings.TrimSpace(sourceURL))
	prompt = strings.ReplaceAll(prompt, "{{TEXT_EN}}", textEN)
	return prompt, nil
}

// taxonomyExamples lists a few valid type -> domain -> specialization chains.
func taxonomyExamples(tax *model.Taxonomy) string {
	var lines []string
	for _, d := range tax.SortedDomains() {
		if len(lines) == 3 {
			break
		}
		var specs []string
		for _, sp := range tax.SortedSpecializations() {
			if sp.DomainID == d.ID && len(specs) < 2 {
				specs = append(specs, fmt.Sprintf("%s(id:%d)", sp.Name, sp.ID))
			}
		}
		if len(specs) == 0 {
			continue
		}
		t := tax.Types[d.TypeID]
		lines = append(lines, fmt.Sprintf("  - OpType '%s' (id:%d) -> Domain '%s' (id:%d) -> Specializations: %s",
			t.Name, t.ID, d.Name, d.ID, strings.Join(specs, ", ")))
	}
	if len(lines) == 0 {
		return ""
	}
	return "EXAMPLES OF VALID COMBINATIONS:\n" + strings.Join(lines, "\n") + "\n\n"
}
