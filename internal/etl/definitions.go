package etl

import (
	"context"
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
)

//go:embed kpi_definitions.yaml
var defaultDefinitionsYAML []byte

type definitionFile struct {
	Definitions []model.KPIDefinition `yaml:"definitions"`
}

// LoadDefinitions parses KPI definitions from a YAML file, or from the
// embedded defaults when path is empty.
func LoadDefinitions(path string) ([]model.KPIDefinition, error) {
	raw := defaultDefinitionsYAML
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "etl: read definitions %s", path)
		}
	}

	var file definitionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrap(err, "etl: parse definitions")
	}
	if len(file.Definitions) == 0 {
		return nil, eris.New("etl: definitions file has no entries")
	}
	for _, def := range file.Definitions {
		if def.KPIName == "" {
			return nil, eris.New("etl: definition with empty kpi_name")
		}
	}
	return file.Definitions, nil
}

// SeedDefinitions upserts KPI definitions into the mart. Existing rows with
// the same kpi_name are replaced, so re-running the pipeline is safe.
func SeedDefinitions(ctx context.Context, store mart.Store, path string) (int, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return 0, err
	}
	if err := store.SeedKPIDefinitions(ctx, defs); err != nil {
		return 0, eris.Wrap(err, "etl: seed definitions")
	}
	zap.L().Info("kpi definitions seeded", zap.Int("count", len(defs)))
	return len(defs), nil
}
