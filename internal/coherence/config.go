package coherence

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadQuestions reads a Question list from a JSON/YAML config file via
// viper. Only the given path is read; there is no fallback search.
func LoadQuestions(path string) ([]Question, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("coherence: read question config %s: %w", path, err)
	}

	var raw []struct {
		ID        string `mapstructure:"id"`
		Question  string `mapstructure:"question"`
		Check     string `mapstructure:"check"`
		Assertion string `mapstructure:"assertion"`
		Severity  string `mapstructure:"severity"`
		Category  string `mapstructure:"category"`
		Enabled   bool   `mapstructure:"enabled"`
	}
	if err := v.UnmarshalKey("questions", &raw); err != nil {
		return nil, fmt.Errorf("coherence: decode questions: %w", err)
	}

	questions := make([]Question, 0, len(raw))
	for _, r := range raw {
		questions = append(questions, Question{
			ID:        r.ID,
			Question:  r.Question,
			Check:     r.Check,
			Assertion: r.Assertion,
			Severity:  Severity(r.Severity),
			Category:  r.Category,
			Enabled:   r.Enabled,
		})
	}
	return questions, nil
}
