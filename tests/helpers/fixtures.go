package helpers

import "github.com/xiaot623/lectern/internal/domain"

// CalculusSnippets is a three-part lecture: an intro (0-10s), a derivative
// definition (10-25s) and a chain rule example (25-40s).
func CalculusSnippets() []domain.RawSnippet {
	return []domain.RawSnippet{
		{
			Text:     "Welcome to this introduction to calculus. Today we study how quantities change.",
			Start:    0,
			Duration: 10,
		},
		{
			Text:     "A derivative is the instantaneous rate of change of a function. The derivative f'(x) equals the limit of the difference quotient.",
			Start:    10,
			Duration: 15,
		},
		{
			Text:     "The chain rule lets us differentiate composed functions. For example, differentiating sin(x^2) gives 2x cos(x^2).",
			Start:    25,
			Duration: 15,
		},
	}
}
