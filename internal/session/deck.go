package session

import "context"

// DeckQuestion is one question as supplied by a content provider. The core
// treats the content as opaque.
type DeckQuestion struct {
	Text          string
	Options       []string
	CorrectOption *int // nil makes the question a poll
	TimeLimit     int
}

// DeckProvider supplies the question deck seeded into a new session.
type DeckProvider interface {
	Deck(ctx context.Context) ([]DeckQuestion, error)
}

type staticDeck []DeckQuestion

func (d staticDeck) Deck(context.Context) ([]DeckQuestion, error) {
	return d, nil
}

// StaticDeck wraps a fixed set of questions as a DeckProvider.
func StaticDeck(questions []DeckQuestion) DeckProvider {
	return staticDeck(questions)
}

// DefaultDeck is the built-in sample deck used when no content provider is
// configured.
func DefaultDeck() DeckProvider {
	correct := func(i int) *int { return &i }

	return staticDeck{
		{
			Text: "What should you do if you encounter a bear in the wild?",
			Options: []string{
				"Run away as fast as possible",
				"Make yourself look big and back away slowly",
				"Play dead immediately",
				"Try to climb the nearest tree",
			},
			CorrectOption: correct(1),
			TimeLimit:     20,
		},
		{
			Text: "Which director won an Oscar for 'Oppenheimer'?",
			Options: []string{
				"Steven Spielberg",
				"Christopher Nolan",
				"Denis Villeneuve",
				"Martin Scorsese",
			},
			CorrectOption: correct(1),
			TimeLimit:     15,
		},
		{
			Text: "What do you call a group of flamingos?",
			Options: []string{
				"A flock",
				"A colony",
				"A flamboyance",
				"A squadron",
			},
			CorrectOption: correct(2),
			TimeLimit:     18,
		},
		{
			Text: "Which country has the most Michelin-starred restaurants?",
			Options: []string{
				"France",
				"Italy",
				"Japan",
				"Germany",
			},
			CorrectOption: correct(0),
			TimeLimit:     17,
		},
		{
			Text: "What is the smallest country in the world by area?",
			Options: []string{
				"Monaco",
				"Liechtenstein",
				"Vatican City",
				"San Marino",
			},
			CorrectOption: correct(2),
			TimeLimit:     16,
		},
		{
			Text: "In what year was the first iPhone released?",
			Options: []string{
				"2005",
				"2007",
				"2009",
				"2011",
			},
			CorrectOption: correct(1),
			TimeLimit:     15,
		},
		{
			Text: "What is the only mammal capable of true flight?",
			Options: []string{
				"Flying squirrel",
				"Bat",
				"Flying fish",
				"Sugar glider",
			},
			CorrectOption: correct(1),
			TimeLimit:     16,
		},
		{
			Text: "Which famous scientist won the Nobel Prize twice?",
			Options: []string{
				"Albert Einstein",
				"Marie Curie",
				"Isaac Newton",
				"Nikola Tesla",
			},
			CorrectOption: correct(1),
			TimeLimit:     18,
		},
		{
			Text: "What is the capital of Australia?",
			Options: []string{
				"Sydney",
				"Melbourne",
				"Canberra",
				"Brisbane",
			},
			CorrectOption: correct(2),
			TimeLimit:     15,
		},
		{
			Text: "Which element has the chemical symbol 'Au'?",
			Options: []string{
				"Silver",
				"Aluminum",
				"Gold",
				"Argon",
			},
			CorrectOption: correct(2),
			TimeLimit:     17,
		},
	}
}
