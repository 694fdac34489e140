package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/learncoach/backend/internal/retrieval"
)

// Section markers the model is instructed to emit. The parser treats
// anything between two markers as the body of the first.
const (
	markerExplanation = "EXPLANATION:"
	markerExample     = "EXAMPLE:"
	markerRelevance   = "RELEVANCE:"
	markerNextStep    = "NEXT_STEP:"
)

// Placeholders used when the model omits a section. An answer always
// carries all four sections.
const (
	placeholderExplanation = "An explanation for this topic could not be produced."
	placeholderExample     = "No worked example is available for this topic yet."
	placeholderRelevance   = "This topic comes up regularly in practice."
	placeholderNextStep    = "Ask a follow-up question to keep going."
)

// Composer builds structured answers from the language model, with or
// without retrieved course-material context.
type Composer struct {
	generator       Generator
	maxContextChars int
}

func NewComposer(generator Generator, maxContextChars int) *Composer {
	if maxContextChars <= 0 {
		maxContextChars = 6000
	}
	return &Composer{
		generator:       generator,
		maxContextChars: maxContextChars,
	}
}

// Compose produces an Answer for the query. With passages the model is
// told to prioritize them over its general knowledge; without, to
// answer from general knowledge only. Passages beyond the context
// character budget are dropped, lowest-ranked first.
func (c *Composer) Compose(ctx context.Context, query Query, passages []retrieval.Passage) (*Answer, error) {
	included := c.fitToBudget(passages)
	prompt := c.buildPrompt(query, included)

	response, err := c.generator.Generate(ctx, prompt, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	answer := parseSections(response)
	answer.Stage = StageInitial

	if len(included) > 0 {
		answer.Stage = StageRetrievalAugmented
		answer.UsedRetrieval = true
		answer.Sources = make([]string, 0, len(included))
		for _, p := range included {
			answer.Sources = append(answer.Sources, p.Source)
		}
	}

	return answer, nil
}

// fitToBudget keeps passages in ranked order until their combined text
// exceeds the context budget.
func (c *Composer) fitToBudget(passages []retrieval.Passage) []retrieval.Passage {
	var included []retrieval.Passage
	used := 0
	for _, p := range passages {
		if used+len(p.Text) > c.maxContextChars {
			break
		}
		used += len(p.Text)
		included = append(included, p)
	}
	return included
}

func (c *Composer) buildPrompt(query Query, passages []retrieval.Passage) string {
	var b strings.Builder

	b.WriteString("You are a patient, encouraging learning coach helping a student understand a topic.\n")
	if query.SkillLevel != "" {
		b.WriteString(fmt.Sprintf("The student's skill level is %s; match your explanation to it.\n", query.SkillLevel))
	}
	if query.Subject != "" {
		b.WriteString(fmt.Sprintf("The student is studying %s.\n", query.Subject))
	}

	if len(passages) > 0 {
		b.WriteString("\nCOURSE MATERIAL:\n")
		for i, p := range passages {
			b.WriteString(fmt.Sprintf("[Passage %d]\n%s\n\n", i+1, p.Text))
		}
		b.WriteString("Answer using the course material above as the primary source. Prioritize it over your general knowledge and do not contradict it.\n")
	} else {
		b.WriteString("\nAnswer from your general knowledge only.\n")
	}

	if len(query.History) > 0 {
		b.WriteString("\nRECENT CONVERSATION:\n")
		for _, turn := range query.History {
			b.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
	}

	b.WriteString("\nQUESTION: ")
	b.WriteString(query.Question)
	b.WriteString("\n\nRespond in exactly this format, each marker on its own line:\n")
	b.WriteString(markerExplanation + " a clear explanation of the concept\n")
	b.WriteString(markerExample + " a concrete, practical example\n")
	b.WriteString(markerRelevance + " why this matters in the real world\n")
	b.WriteString(markerNextStep + " what the student should learn next\n")

	return b.String()
}

// parseSections splits a model response on the section markers. A
// response with no markers at all becomes the explanation; any
// individually missing section gets its placeholder. Formatting
// imperfection never blocks the pipeline.
func parseSections(response string) *Answer {
	sections := map[string]*strings.Builder{
		markerExplanation: {},
		markerExample:     {},
		markerRelevance:   {},
		markerNextStep:    {},
	}

	current := ""
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)

		matched := false
		for marker := range sections {
			if strings.HasPrefix(trimmed, marker) {
				current = marker
				sections[marker].WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, marker)))
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		if current != "" && trimmed != "" {
			b := sections[current]
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(trimmed)
		}
	}

	answer := &Answer{
		Explanation: sections[markerExplanation].String(),
		Example:     sections[markerExample].String(),
		Relevance:   sections[markerRelevance].String(),
		NextStep:    sections[markerNextStep].String(),
	}

	if answer.Explanation == "" {
		if current == "" && strings.TrimSpace(response) != "" {
			answer.Explanation = strings.TrimSpace(response)
		} else {
			answer.Explanation = placeholderExplanation
		}
	}
	if answer.Example == "" {
		answer.Example = placeholderExample
	}
	if answer.Relevance == "" {
		answer.Relevance = placeholderRelevance
	}
	if answer.NextStep == "" {
		answer.NextStep = placeholderNextStep
	}

	return answer
}
