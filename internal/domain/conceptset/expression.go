package conceptset

import "github.com/omop/atlas/internal/domain/vocabulary"

// Expression is the ATLAS ConceptSetExpression document.
type Expression struct {
	Items []ExpressionItem `json:"items"`
}

type ExpressionItem struct {
	Concept            ExpressionConcept `json:"concept"`
	IsExcluded         bool              `json:"isExcluded"`
	IncludeDescendants bool              `json:"includeDescendants"`
	IncludeMapped      bool              `json:"includeMapped"`
}

// ExpressionConcept uses the upper-case keys ATLAS expects in expressions.
type ExpressionConcept struct {
	ConceptID              int64   `json:"CONCEPT_ID"`
	ConceptName            string  `json:"CONCEPT_NAME"`
	StandardConcept        *string `json:"STANDARD_CONCEPT"`
	StandardConceptCaption string  `json:"STANDARD_CONCEPT_CAPTION"`
	InvalidReason          *string `json:"INVALID_REASON"`
	InvalidReasonCaption   string  `json:"INVALID_REASON_CAPTION"`
	ConceptCode            string  `json:"CONCEPT_CODE"`
	DomainID               string  `json:"DOMAIN_ID"`
	VocabularyID           string  `json:"VOCABULARY_ID"`
	ConceptClassID         string  `json:"CONCEPT_CLASS_ID"`
}

// NewExpression renders cs as an expression, keeping item order.
func NewExpression(cs *ConceptSet) *Expression {
	exp := &Expression{Items: make([]ExpressionItem, 0, len(cs.Items))}
	for _, it := range cs.Items {
		ec := ExpressionConcept{ConceptID: it.ConceptID}
		if c := it.Concept; c != nil {
			ec = expressionConcept(c)
		}
		exp.Items = append(exp.Items, ExpressionItem{
			Concept:            ec,
			IsExcluded:         it.IsExcluded,
			IncludeDescendants: it.IncludeDescendants,
			IncludeMapped:      it.IncludeMapped,
		})
	}
	return exp
}

func expressionConcept(c *vocabulary.Concept) ExpressionConcept {
	return ExpressionConcept{
		ConceptID:              c.ConceptID,
		ConceptName:            c.ConceptName,
		StandardConcept:        c.StandardConcept,
		StandardConceptCaption: StandardConceptCaption(c.StandardConcept),
		InvalidReason:          c.InvalidReason,
		InvalidReasonCaption:   InvalidReasonCaption(c.InvalidReason),
		ConceptCode:            c.ConceptCode,
		DomainID:               c.DomainID,
		VocabularyID:           c.VocabularyID,
		ConceptClassID:         c.ConceptClassID,
	}
}

func StandardConceptCaption(flag *string) string {
	if flag == nil {
		return "Non-Standard"
	}
	switch *flag {
	case "S":
		return "Standard"
	case "C":
		return "Classification"
	default:
		return "Unknown"
	}
}

func InvalidReasonCaption(reason *string) string {
	if reason == nil {
		return "Valid"
	}
	switch *reason {
	case "D", "U":
		return "Invalid"
	default:
		return "Unknown"
	}
}
