package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"sgc/internal/domain"
)

const (
	UncoveredWarn  = "alertar"
	UncoveredBlock = "bloquear"
)

// Config models sgc.yml.
type Config struct {
	Organizacao struct {
		Nome     string       `yaml:"nome" json:"nome"`
		Unidades []UnitConfig `yaml:"unidades" json:"unidades"`
	} `yaml:"organizacao" json:"organizacao"`
	Politicas struct {
		Disponibilizacao struct {
			Estrita *bool `yaml:"estrita" json:"estrita,omitempty"`
		} `yaml:"disponibilizacao" json:"disponibilizacao"`
		Mapa struct {
			AtividadesSemCompetencia string `yaml:"atividades_sem_competencia" json:"atividades_sem_competencia"`
		} `yaml:"mapa" json:"mapa"`
	} `yaml:"politicas" json:"politicas"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// UnitConfig is one node of the configured unit tree.
type UnitConfig struct {
	Sigla   string       `yaml:"sigla" json:"sigla"`
	Nome    string       `yaml:"nome" json:"nome"`
	Tipo    string       `yaml:"tipo" json:"tipo"`
	Titular string       `yaml:"titular,omitempty" json:"titular,omitempty"`
	Filhas  []UnitConfig `yaml:"filhas,omitempty" json:"filhas,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// StrictDisponibilizacao reports whether re-submitting a disponibilizado artifact is rejected.
func (c *Config) StrictDisponibilizacao() bool {
	if c == nil || c.Politicas.Disponibilizacao.Estrita == nil {
		return true
	}
	return *c.Politicas.Disponibilizacao.Estrita
}

// BlockUncoveredActivities reports whether activities without competency block map disponibilização.
func (c *Config) BlockUncoveredActivities() bool {
	return c != nil && c.Politicas.Mapa.AtividadesSemCompetencia == UncoveredBlock
}

// Units flattens the configured tree, parents before children.
func (c *Config) Units() []domain.Unit {
	var out []domain.Unit
	var walk func(u UnitConfig, parent string)
	walk = func(u UnitConfig, parent string) {
		unit := domain.Unit{
			Sigla:   u.Sigla,
			Nome:    u.Nome,
			Tipo:    domain.UnitKind(u.Tipo),
			Titular: u.Titular,
			Parent:  parent,
		}
		for _, f := range u.Filhas {
			unit.Filhas = append(unit.Filhas, f.Sigla)
		}
		out = append(out, unit)
		for _, f := range u.Filhas {
			walk(f, u.Sigla)
		}
	}
	for _, u := range c.Organizacao.Unidades {
		walk(u, "")
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Organizacao.Unidades) == 0 {
		return fmt.Errorf("config.organizacao.unidades is required")
	}
	if len(c.Organizacao.Unidades) > 1 {
		return fmt.Errorf("config.organizacao.unidades must have a single root, got %d", len(c.Organizacao.Unidades))
	}
	seen := map[string]bool{}
	for _, u := range c.Units() {
		if u.Sigla == "" {
			return fmt.Errorf("unit with empty sigla (nome %q)", u.Nome)
		}
		if seen[u.Sigla] {
			return fmt.Errorf("duplicate unit sigla %s", u.Sigla)
		}
		seen[u.Sigla] = true
		if !u.Tipo.Valid() {
			return fmt.Errorf("unit %s has invalid tipo %q", u.Sigla, u.Tipo)
		}
	}
	switch c.Politicas.Mapa.AtividadesSemCompetencia {
	case "", UncoveredWarn, UncoveredBlock:
	default:
		return fmt.Errorf("config.politicas.mapa.atividades_sem_competencia must be %s or %s", UncoveredWarn, UncoveredBlock)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %s has negative timeout", hook.URL)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sgc.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sgc config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `organizacao:
  nome: Tribunal
  unidades:
    - sigla: SEDOC
      nome: Seção de Desenvolvimento Organizacional
      tipo: INTEROPERATIONAL
      titular: admin
      filhas:
        - sigla: SECRETARIA_1
          nome: Secretaria 1
          tipo: INTEROPERATIONAL
          titular: gestor-sec1
          filhas:
            - sigla: COORD_11
              nome: Coordenadoria 11
              tipo: INTERMEDIATE
              titular: gestor-coord11
              filhas:
                - sigla: SECAO_111
                  nome: Seção 111
                  tipo: OPERATIONAL
                  titular: chefe-111
                - sigla: SECAO_112
                  nome: Seção 112
                  tipo: OPERATIONAL
                  titular: chefe-112
        - sigla: SECRETARIA_2
          nome: Secretaria 2
          tipo: INTERMEDIATE
          filhas:
            - sigla: SECAO_211
              nome: Seção 211
              tipo: OPERATIONAL
              titular: chefe-211

politicas:
  disponibilizacao:
    estrita: true
  mapa:
    atividades_sem_competencia: alertar
`
