package prediction

import (
	"fmt"

	"github.com/xiaot623/lectern/internal/domain"
)

// template renders one family of anticipated questions.
type template struct {
	kind   domain.QuestionKind
	weight float64
	render func(args ...string) string
}

var (
	definitionTemplate = template{
		kind:   domain.QuestionKindDefinition,
		weight: 0.60,
		render: func(args ...string) string { return fmt.Sprintf("What does %s mean?", args[0]) },
	}
	rationaleTemplate = template{
		kind:   domain.QuestionKindRationale,
		weight: 0.45,
		render: func(args ...string) string { return fmt.Sprintf("Why is %s important here?", args[0]) },
	}
	exampleTemplate = template{
		kind:   domain.QuestionKindExample,
		weight: 0.50,
		render: func(args ...string) string { return fmt.Sprintf("Can you give an example of %s?", args[0]) },
	}
	contrastTemplate = template{
		kind:   domain.QuestionKindContrast,
		weight: 0.40,
		render: func(args ...string) string {
			return fmt.Sprintf("How is %s different from %s?", args[0], args[1])
		},
	}
	topicTemplate = template{
		kind:   domain.QuestionKindTopic,
		weight: 0.55,
		render: func(args ...string) string {
			return fmt.Sprintf("How does %s fit into this part of the lecture?", args[0])
		},
	}
)

// recapTemplates pad short prediction lists. Their wording is kept
// dissimilar so none is dropped as a duplicate of another.
var recapTemplates = []template{
	{
		kind:   domain.QuestionKindRecap,
		weight: 0.25,
		render: func(...string) string { return "What are the key points of this part of the video?" },
	},
	{
		kind:   domain.QuestionKindRecap,
		weight: 0.24,
		render: func(args ...string) string {
			return fmt.Sprintf("Can you recap what was covered between %s and %s?", args[0], args[1])
		},
	},
	{
		kind:   domain.QuestionKindRecap,
		weight: 0.23,
		render: func(...string) string { return "What should I understand before moving on?" },
	},
}

// boostsStruggle reports whether repeated pauses weigh double for kind.
func boostsStruggle(kind domain.QuestionKind) bool {
	return kind == domain.QuestionKindDefinition || kind == domain.QuestionKindExample
}
