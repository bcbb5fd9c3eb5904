package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/validate"
)

// Test categories used by the built-in dataset.
const (
	CategoryCount    = "count"
	CategoryLookup   = "lookup"
	CategoryListing  = "listing"
	CategoryOffTopic = "off-topic"
)

// Dataset is a collection of test cases for evaluation.
type Dataset struct {
	Name  string     `json:"name" yaml:"name" validate:"required"`
	Tests []TestCase `json:"tests" yaml:"tests" validate:"required,min=1,dive"`
}

// TestCase defines a single evaluation question.
type TestCase struct {
	Question string `json:"question" yaml:"question" validate:"required"`

	// ExpectedOutcome is the chain outcome the question should end in.
	// Empty accepts any outcome.
	ExpectedOutcome string `json:"expected_outcome,omitempty" yaml:"expected_outcome,omitempty" validate:"omitempty,oneof=answered direct rejected unsafe empty execution_failed"`

	// ExpectedFacts should appear in the answer. A fact may list
	// pipe-separated alternatives ("yemba|yémba").
	ExpectedFacts []string `json:"expected_facts,omitempty" yaml:"expected_facts,omitempty"`

	// QueryFragments should appear in the generated Cypher, case-insensitively.
	QueryFragments []string `json:"query_fragments,omitempty" yaml:"query_fragments,omitempty"`

	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Explanation string `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// LoadDataset reads a dataset from a YAML or JSON file.
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("reading dataset: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &ds)
	case ".json":
		err = json.Unmarshal(data, &ds)
	default:
		return ds, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
	if err != nil {
		return ds, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := validate.Struct(ds); err != nil {
		return ds, fmt.Errorf("invalid dataset %s: %w", path, err)
	}
	return ds, nil
}

// DictionaryDataset returns sample questions about the NTeALan
// dictionary graph.
func DictionaryDataset() Dataset {
	return Dataset{
		Name: "NTeALan dictionaries",
		Tests: []TestCase{
			{
				Question:        "Combien de dictionnaires y a-t-il dans la base ?",
				ExpectedOutcome: chain.OutcomeAnswered,
				QueryFragments:  []string{"NeoDictionary", "count("},
				Category:        CategoryCount,
			},
			{
				Question:        "Combien d'articles contient le dictionnaire yemba-français ?",
				ExpectedOutcome: chain.OutcomeAnswered,
				QueryFragments:  []string{"NeoArticle", "ARTICLE_IS_USED_IN", "count("},
				Category:        CategoryCount,
			},
			{
				Question:        "Quelle est la traduction française du mot mbɔ̀ ?",
				ExpectedOutcome: chain.OutcomeAnswered,
				QueryFragments:  []string{"NeoWord", "mbɔ̀"},
				Category:        CategoryLookup,
			},
			{
				Question:        "Liste les variantes du mot ndʉ̀.",
				ExpectedOutcome: chain.OutcomeAnswered,
				QueryFragments:  []string{"NeoVariant"},
				Category:        CategoryListing,
			},
			{
				Question:        "Bonjour, comment tu vas ?",
				ExpectedOutcome: chain.OutcomeRejected,
				Category:        CategoryOffTopic,
			},
			{
				Question:        "Quel temps fait-il à Douala ?",
				ExpectedOutcome: chain.OutcomeRejected,
				Category:        CategoryOffTopic,
			},
		},
	}
}
