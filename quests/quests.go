// Package quests holds the financial-literacy quest bank used by the quiz
// activity.
package quests

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed quests.yaml
var bundled []byte

const DefaultLanguage = "en"

var (
	ErrQuestNotFound = errors.New("quest not found")
	ErrAnswerCount   = errors.New("answer count does not match the question count")
)

type Question struct {
	Question     string   `yaml:"question" json:"question"`
	Options      []string `yaml:"options" json:"options"`
	CorrectIndex int      `yaml:"correct_index" json:"-"`
}

type Quest struct {
	ID        string                `yaml:"id" json:"id"`
	Title     string                `yaml:"title" json:"title"`
	Points    int                   `yaml:"points" json:"points"`
	Questions map[string][]Question `yaml:"questions" json:"-"`
}

// For returns the questions in lang, falling back to English.
func (q Quest) For(lang string) []Question {
	if qs, ok := q.Questions[lang]; ok && len(qs) > 0 {
		return qs
	}
	return q.Questions[DefaultLanguage]
}

// Grade counts correct answers. answers[i] is the chosen option index of
// question i.
func (q Quest) Grade(lang string, answers []int) (correct, total int, err error) {
	qs := q.For(lang)
	if len(answers) != len(qs) {
		return 0, len(qs), ErrAnswerCount
	}
	for i, a := range answers {
		if a == qs[i].CorrectIndex {
			correct++
		}
	}
	return correct, len(qs), nil
}

type Bank struct {
	Quests []Quest `yaml:"quests"`
}

// Load parses a quest bank and checks every question is answerable.
func Load(raw []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("quests.yaml: %w", err)
	}
	for _, q := range b.Quests {
		if len(q.For(DefaultLanguage)) == 0 {
			return nil, fmt.Errorf("quest %s: no %s questions", q.ID, DefaultLanguage)
		}
		for lang, qs := range q.Questions {
			for i, question := range qs {
				if question.CorrectIndex < 0 || question.CorrectIndex >= len(question.Options) {
					return nil, fmt.Errorf("quest %s/%s question %d: correct_index out of range", q.ID, lang, i+1)
				}
			}
		}
	}
	return &b, nil
}

// Default returns the bundled quest bank.
func Default() (*Bank, error) {
	return Load(bundled)
}

// Get finds a quest by id. An empty id selects the first quest.
func (b *Bank) Get(id string) (Quest, error) {
	for _, q := range b.Quests {
		if id == "" || q.ID == id {
			return q, nil
		}
	}
	return Quest{}, ErrQuestNotFound
}
