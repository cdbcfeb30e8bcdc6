package domain

// UnitKind classifies a node of the organizational tree.
type UnitKind string

const (
	UnitOperational      UnitKind = "OPERATIONAL"
	UnitIntermediate     UnitKind = "INTERMEDIATE"
	UnitInteroperational UnitKind = "INTEROPERATIONAL"
)

func (k UnitKind) Valid() bool {
	switch k {
	case UnitOperational, UnitIntermediate, UnitInteroperational:
		return true
	}
	return false
}

// Escalates reports whether units of this kind take part in the approval chain.
func (k UnitKind) Escalates() bool {
	return k == UnitIntermediate || k == UnitInteroperational
}

type ProcessType string

const (
	ProcessMapeamento  ProcessType = "MAPEAMENTO"
	ProcessRevisao     ProcessType = "REVISAO"
	ProcessDiagnostico ProcessType = "DIAGNOSTICO"
)

func (t ProcessType) Valid() bool {
	switch t {
	case ProcessMapeamento, ProcessRevisao, ProcessDiagnostico:
		return true
	}
	return false
}

type ProcessStatus string

const (
	ProcessCriado      ProcessStatus = "CRIADO"
	ProcessEmAndamento ProcessStatus = "EM_ANDAMENTO"
	ProcessFinalizado  ProcessStatus = "FINALIZADO"
)

// SubprocessState is drawn from the fixed alphabet of the process type.
type SubprocessState string

const (
	CadastroEmAndamento     SubprocessState = "CADASTRO_EM_ANDAMENTO"
	CadastroDisponibilizado SubprocessState = "CADASTRO_DISPONIBILIZADO"
	CadastroHomologado      SubprocessState = "CADASTRO_HOMOLOGADO"
	MapaEmAndamento         SubprocessState = "MAPA_EM_ANDAMENTO"
	MapaDisponibilizado     SubprocessState = "MAPA_DISPONIBILIZADO"
	MapaHomologado          SubprocessState = "MAPA_HOMOLOGADO"

	RevisaoCadastroEmAndamento     SubprocessState = "REVISAO_CADASTRO_EM_ANDAMENTO"
	RevisaoCadastroDisponibilizado SubprocessState = "REVISAO_CADASTRO_DISPONIBILIZADO"
	RevisaoCadastroHomologado      SubprocessState = "REVISAO_CADASTRO_HOMOLOGADO"
	RevisaoMapaEmAndamento         SubprocessState = "REVISAO_MAPA_EM_ANDAMENTO"
	RevisaoMapaDisponibilizado     SubprocessState = "REVISAO_MAPA_DISPONIBILIZADO"
	RevisaoMapaHomologado          SubprocessState = "REVISAO_MAPA_HOMOLOGADO"

	DiagnosticoEmAndamento     SubprocessState = "DIAGNOSTICO_EM_ANDAMENTO"
	DiagnosticoDisponibilizado SubprocessState = "DIAGNOSTICO_DISPONIBILIZADO"
	DiagnosticoHomologado      SubprocessState = "DIAGNOSTICO_HOMOLOGADO"
)

// Role is the actor's profile.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleGestor   Role = "GESTOR"
	RoleChefe    Role = "CHEFE"
	RoleServidor Role = "SERVIDOR"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleGestor, RoleChefe, RoleServidor:
		return true
	}
	return false
}

// Relationship of the actor's unit to a subprocess's current unit.
type Relationship string

const (
	RelationSame      Relationship = "SAME"
	RelationAncestor  Relationship = "ANCESTOR"
	RelationRoot      Relationship = "ROOT"
	RelationUnrelated Relationship = "UNRELATED"
)

// Action is anything an actor may invoke on a subprocess.
type Action string

const (
	ActionDisponibilizar      Action = "disponibilizar"
	ActionAceitar             Action = "aceitar"
	ActionDevolver            Action = "devolver"
	ActionHomologar           Action = "homologar"
	ActionValidar             Action = "validar"
	ActionApresentarSugestoes Action = "apresentarSugestoes"
	ActionVisualizar          Action = "visualizar"
	ActionEditar              Action = "editar"
	ActionIniciarMapa         Action = "iniciarMapa"
)

// Decision recorded in the analysis history.
type Decision string

const (
	DecisionAceite      Decision = "ACEITE"
	DecisionHomologacao Decision = "HOMOLOGACAO"
	DecisionDevolucao   Decision = "DEVOLUCAO"
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID      string `json:"id"`
	Role    Role   `json:"perfil"`
	Unidade string `json:"unidade"`
}

type Unit struct {
	Sigla   string   `json:"sigla"`
	Nome    string   `json:"nome"`
	Tipo    UnitKind `json:"tipo" enum:"OPERATIONAL,INTERMEDIATE,INTEROPERATIONAL"`
	Titular string   `json:"titular,omitempty"`
	Parent  string   `json:"parent,omitempty"`
	Filhas  []string `json:"filhas,omitempty"`
}

type Process struct {
	ID           string        `json:"id"`
	Descricao    string        `json:"descricao"`
	Tipo         ProcessType   `json:"tipo" enum:"MAPEAMENTO,REVISAO,DIAGNOSTICO"`
	Situacao     ProcessStatus `json:"situacao" enum:"CRIADO,EM_ANDAMENTO,FINALIZADO"`
	DataLimite   string        `json:"data_limite" format:"date"`
	Unidades     []string      `json:"unidades"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
	IniciadoEm   *string       `json:"iniciado_em,omitempty" format:"date-time"`
	FinalizadoEm *string       `json:"finalizado_em,omitempty" format:"date-time"`
}

type Subprocess struct {
	ID               string          `json:"id"`
	ProcessoID       string          `json:"processo_id"`
	Unidade          string          `json:"unidade"`
	Situacao         SubprocessState `json:"situacao"`
	UnidadeAtual     string          `json:"unidade_atual"`
	DataLimiteEtapa1 *string         `json:"data_limite_etapa1,omitempty" format:"date"`
	DataLimiteEtapa2 *string         `json:"data_limite_etapa2,omitempty" format:"date"`
	MapaValidado     bool            `json:"mapa_validado"`
	Sugestoes        string          `json:"sugestoes,omitempty"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
}

// Movement records the current unit changing hands.
type Movement struct {
	ID             int64  `json:"id"`
	SubprocessoID  string `json:"subprocesso_id"`
	UnidadeOrigem  string `json:"unidade_origem"`
	UnidadeDestino string `json:"unidade_destino"`
	TS             string `json:"ts" format:"date-time"`
}

type Analysis struct {
	ID            int64           `json:"id"`
	SubprocessoID string          `json:"subprocesso_id"`
	Situacao      SubprocessState `json:"situacao"`
	ActorID       string          `json:"actor_id"`
	Unidade       string          `json:"unidade"`
	TS            string          `json:"ts" format:"date-time"`
	Decisao       Decision        `json:"decisao" enum:"ACEITE,HOMOLOGACAO,DEVOLUCAO"`
	Observacao    string          `json:"observacao,omitempty"`
}

type Activity struct {
	ID            string      `json:"id"`
	SubprocessoID string      `json:"subprocesso_id"`
	Descricao     string      `json:"descricao"`
	Conhecimentos []Knowledge `json:"conhecimentos"`
}

type Knowledge struct {
	ID          string `json:"id"`
	AtividadeID string `json:"atividade_id"`
	Descricao   string `json:"descricao"`
}

type Competency struct {
	ID            string   `json:"id"`
	SubprocessoID string   `json:"subprocesso_id"`
	Descricao     string   `json:"descricao"`
	Atividades    []string `json:"atividades"`
}

// VigentMap points a unit at the subprocess holding its official map.
type VigentMap struct {
	ID            int64   `json:"id"`
	Unidade       string  `json:"unidade"`
	SubprocessoID string  `json:"subprocesso_id"`
	ProcessoID    string  `json:"processo_id"`
	VigenteDesde  string  `json:"vigente_desde" format:"date-time"`
	ArquivadoEm   *string `json:"arquivado_em,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProcessoID string `json:"processo_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActorRecord is the stored profile behind an API key.
type ActorRecord struct {
	ID        string `json:"id"`
	Perfil    Role   `json:"perfil"`
	Unidade   string `json:"unidade"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
