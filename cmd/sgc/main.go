package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sgc/internal/app"
	"sgc/internal/config"
	"sgc/internal/db"
	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/repo"
	"sgc/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sgc",
	Short: "SGC competency mapping workflow",
	Long: `sgc drives competency mapping processes across an organizational unit tree.
- Workspace: directory holding the sqlite database and an optional sgc.yml.
- Unidades: the unit tree imported from sgc.yml; the root is the administrator's unit.
- Processos: MAPEAMENTO, REVISAO or DIAGNOSTICO over a set of participating units.
- Subprocessos: one per unit; the cadastro and the map are disponibilizados, accepted
  up the chain and homologated by the administrator.
- Actor: every command runs as --actor-id/--perfil/--unidade (or SGC_ACTOR_ID, ...).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SGC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("db", "", "database file (default <workspace>/.sgc/sgc.db)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "admin", "actor identifier")
	flags.String("perfil", string(domain.RoleAdmin), "actor perfil (ADMIN, GESTOR, CHEFE, SERVIDOR)")
	flags.String("unidade", "", "actor unit sigla (defaults to the root unit)")
	flags.String("log-level", "warn", "log level")
	flags.String("log-format", "console", "log format (console, json)")
	for _, name := range []string{"workspace", "db", "json", "actor-id", "perfil", "unidade", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(unidadesCmd())
	rootCmd.AddCommand(processoCmd())
	rootCmd.AddCommand(subprocessoCmd())
	rootCmd.AddCommand(atividadeCmd())
	rootCmd.AddCommand(conhecimentoCmd())
	rootCmd.AddCommand(competenciaCmd())
	rootCmd.AddCommand(loteCmd())
	rootCmd.AddCommand(mapaCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if viper.GetString("log-format") == "json" {
		cfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func withEnv(ctx context.Context, fn func(context.Context, app.Env) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	env, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), DBFile: viper.GetString("db"), Logger: logger.Sugar()})
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	return withEnv(ctx, func(ctx context.Context, env app.Env) error {
		actor, err := currentActor(env.Config)
		if err != nil {
			return err
		}
		return fn(ctx, env.Engine, actor)
	})
}

func currentActor(cfg *config.Config) (domain.Actor, error) {
	actor := domain.Actor{
		ID:      strings.TrimSpace(viper.GetString("actor-id")),
		Role:    domain.Role(strings.ToUpper(viper.GetString("perfil"))),
		Unidade: strings.TrimSpace(viper.GetString("unidade")),
	}
	if actor.ID == "" {
		return domain.Actor{}, errors.New("--actor-id required")
	}
	if !actor.Role.Valid() {
		return domain.Actor{}, fmt.Errorf("invalid perfil %q", actor.Role)
	}
	if actor.Unidade == "" {
		actor.Unidade = app.SystemActor(cfg).Unidade
	}
	return actor, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default sgc.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				units, err := env.Engine.Unidades(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workspace": workspace, "config": path, "unidades": len(units)})
				}
				fmt.Printf("Workspace %s ready (%s, %d unidades)\n", workspace, db.Path(workspace), len(units))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Organization config"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				return printJSON(env.Config)
			})
		},
	})
	var filePath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import sgc.yml into the database and replace the unit tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				actor, err := currentActor(cfg)
				if err != nil {
					return err
				}
				units, err := env.Engine.ImportarUnidades(ctx, actor, cfg)
				if err != nil {
					return err
				}
				return printUnits(units)
			})
		},
	}
	importCmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = importCmd.MarkFlagRequired("file")
	cfgCmd.AddCommand(importCmd)
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(args[0]); err != nil {
				return err
			}
			fmt.Println(color.GreenString("ok"))
			return nil
		},
	})
	return cfgCmd
}

func unidadesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unidades",
		Short: "List the live unit tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				units, err := env.Engine.Unidades(ctx)
				if err != nil {
					return err
				}
				return printUnits(units)
			})
		},
	}
}

func processoCmd() *cobra.Command {
	proc := &cobra.Command{Use: "processo", Short: "Manage processes"}

	var descricao, tipo, dataLimite string
	var unidades []string
	criar := &cobra.Command{
		Use:   "criar",
		Short: "Create a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				p, err := e.CreateProcess(ctx, actor, engine.CreateProcessOptions{
					Descricao:  descricao,
					Tipo:       domain.ProcessType(strings.ToUpper(tipo)),
					DataLimite: dataLimite,
					Unidades:   unidades,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	criar.Flags().StringVar(&descricao, "descricao", "", "description")
	criar.Flags().StringVar(&tipo, "tipo", string(domain.ProcessMapeamento), "MAPEAMENTO, REVISAO or DIAGNOSTICO")
	criar.Flags().StringVar(&dataLimite, "data-limite", "", "stage 1 deadline (YYYY-MM-DD)")
	criar.Flags().StringSliceVar(&unidades, "unidades", nil, "participating unit siglas")
	_ = criar.MarkFlagRequired("descricao")
	_ = criar.MarkFlagRequired("data-limite")
	proc.AddCommand(criar)

	for _, lc := range []struct {
		use, short string
		fn         func(engine.Engine) func(context.Context, domain.Actor, string) (domain.Process, error)
	}{
		{"iniciar", "Start a process", func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.Process, error) { return e.StartProcess }},
		{"finalizar", "Finalize a process", func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.Process, error) { return e.FinalizeProcess }},
	} {
		lc := lc
		proc.AddCommand(&cobra.Command{
			Use:   lc.use + " <processo-id>",
			Short: lc.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
					p, err := lc.fn(e)(ctx, actor, args[0])
					if err != nil {
						var pnf engine.ProcessoNaoFinalizavelError
						if errors.As(err, &pnf) {
							return fmt.Errorf("%w (%s)", err, color.YellowString(strings.Join(pnf.UnidadesPendentes, ", ")))
						}
						return err
					}
					return printJSONOrTable(p)
				})
			},
		})
	}

	var situacao, filtroTipo string
	var limit int
	listar := &cobra.Command{
		Use:   "listar",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.ListProcesses(ctx, repo.ProcessFilters{
					Situacao: domain.ProcessStatus(strings.ToUpper(situacao)),
					Tipo:     domain.ProcessType(strings.ToUpper(filtroTipo)),
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Descricao", "Tipo", "Situacao", "Data limite", "Unidades"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Descricao, p.Tipo, p.Situacao, p.DataLimite, strings.Join(p.Unidades, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	listar.Flags().StringVar(&situacao, "situacao", "", "filter by situacao")
	listar.Flags().StringVar(&filtroTipo, "tipo", "", "filter by tipo")
	listar.Flags().IntVar(&limit, "limit", 50, "max results")
	proc.AddCommand(listar)

	proc.AddCommand(&cobra.Command{
		Use:   "resumo <processo-id>",
		Short: "Subprocess rollup of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				sum, err := e.ResumoProcesso(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("Processo: %s (%s, %s)\n", sum.Processo.Descricao, sum.Processo.Tipo, sum.Processo.Situacao)
				printSubprocesses(sum.Subprocessos)
				if len(sum.UnidadesPendentes) > 0 {
					fmt.Println("Pendentes:", color.YellowString(strings.Join(sum.UnidadesPendentes, ", ")))
				}
				if sum.Finalizavel {
					fmt.Println(color.GreenString("Pronto para finalizar"))
				}
				return nil
			})
		},
	})

	proc.AddCommand(&cobra.Command{
		Use:   "subprocessos <processo-id>",
		Short: "List the subprocesses of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				subs, err := e.ListSubprocesses(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				printSubprocesses(subs)
				return nil
			})
		},
	})
	return proc
}

type subprocessAction func(ctx context.Context, e engine.Engine, actor domain.Actor, id, observacao, dataLimite string) (domain.Subprocess, error)

func subprocessoCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subprocesso", Short: "Subprocess workflow"}

	sub.AddCommand(&cobra.Command{
		Use:   "show <subprocesso-id>",
		Short: "Show a subprocess",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				s, err := e.GetSubprocessByID(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})

	sub.AddCommand(&cobra.Command{
		Use:   "acoes <subprocesso-id>",
		Short: "Actions the current actor may take",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				acts, err := e.AcoesPermitidas(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(acts)
				}
				for _, a := range acts {
					fmt.Println(a)
				}
				return nil
			})
		},
	})

	actions := []struct {
		use, short string
		fn         subprocessAction
	}{
		{"disponibilizar", "Submit the cadastro or the map", func(ctx context.Context, e engine.Engine, a domain.Actor, id, _, dl string) (domain.Subprocess, error) {
			return e.Disponibilizar(ctx, a, id, engine.DisponibilizarOptions{DataLimite: dl})
		}},
		{"aceitar", "Accept and forward one level up", func(ctx context.Context, e engine.Engine, a domain.Actor, id, obs, _ string) (domain.Subprocess, error) {
			return e.Aceitar(ctx, a, id, obs)
		}},
		{"homologar", "Homologate at the root unit", func(ctx context.Context, e engine.Engine, a domain.Actor, id, obs, _ string) (domain.Subprocess, error) {
			return e.Homologar(ctx, a, id, obs)
		}},
		{"devolver", "Return to the owning unit", func(ctx context.Context, e engine.Engine, a domain.Actor, id, obs, _ string) (domain.Subprocess, error) {
			return e.Devolver(ctx, a, id, obs)
		}},
		{"iniciar-mapa", "Open the map stage", func(ctx context.Context, e engine.Engine, a domain.Actor, id, _, _ string) (domain.Subprocess, error) {
			return e.IniciarMapa(ctx, a, id)
		}},
		{"validar-mapa", "Owning unit confirms the map", func(ctx context.Context, e engine.Engine, a domain.Actor, id, _, _ string) (domain.Subprocess, error) {
			return e.ValidarMapa(ctx, a, id)
		}},
		{"sugestoes", "Record suggestions on the map (text in --observacao)", func(ctx context.Context, e engine.Engine, a domain.Actor, id, obs, _ string) (domain.Subprocess, error) {
			return e.ApresentarSugestoes(ctx, a, id, obs)
		}},
	}
	for _, act := range actions {
		sub.AddCommand(subprocessActionCmd(act.use, act.short, act.fn))
	}

	var etapa string
	validacao := &cobra.Command{
		Use:   "validacao <subprocesso-id>",
		Short: "Check the cadastro or the map without changing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				check := e.ValidarCadastro
				if etapa == "mapa" {
					check = e.VerificarMapa
				}
				res, err := check(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Valido {
					fmt.Println(color.GreenString("valido"))
				}
				for _, issue := range res.Erros {
					fmt.Println(color.RedString("erro:"), issue.Mensagem)
				}
				for _, issue := range res.Alertas {
					fmt.Println(color.YellowString("alerta:"), issue.Mensagem)
				}
				return nil
			})
		},
	}
	validacao.Flags().StringVar(&etapa, "etapa", "cadastro", "cadastro or mapa")
	sub.AddCommand(validacao)

	sub.AddCommand(&cobra.Command{
		Use:   "analises <subprocesso-id>",
		Short: "Analysis history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.ListarAnalises(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Decisao", "Unidade", "Ator", "Situacao", "Observacao"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.TS, a.Decisao, a.Unidade, a.ActorID, a.Situacao, a.Observacao})
				}
				tw.Render()
				return nil
			})
		},
	})

	sub.AddCommand(&cobra.Command{
		Use:   "movimentacoes <subprocesso-id>",
		Short: "Unit hand-offs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.ListarMovimentacoes(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, m := range items {
					fmt.Printf("%s  %s -> %s\n", m.TS, m.UnidadeOrigem, m.UnidadeDestino)
				}
				return nil
			})
		},
	})
	return sub
}

func subprocessActionCmd(use, short string, fn subprocessAction) *cobra.Command {
	var observacao, dataLimite string
	cmd := &cobra.Command{
		Use:   use + " <subprocesso-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				s, err := fn(ctx, e, actor, args[0], observacao, dataLimite)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s %s (unidade atual %s)\n", s.Unidade, colorSituacao(s.Situacao), s.UnidadeAtual)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&observacao, "observacao", "", "observation recorded with the decision")
	cmd.Flags().StringVar(&dataLimite, "data-limite", "", "map stage deadline (YYYY-MM-DD)")
	return cmd
}

func atividadeCmd() *cobra.Command {
	atv := &cobra.Command{Use: "atividade", Short: "Cadastro activities"}

	var descricao string
	add := &cobra.Command{
		Use:   "add <subprocesso-id>",
		Short: "Add an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.AddActivity(ctx, actor, args[0], descricao)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	add.Flags().StringVar(&descricao, "descricao", "", "description")
	_ = add.MarkFlagRequired("descricao")
	atv.AddCommand(add)

	atv.AddCommand(&cobra.Command{
		Use:   "rm <atividade-id>",
		Short: "Remove an activity and its knowledge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.RemoveActivity(ctx, actor, args[0])
			})
		},
	})

	atv.AddCommand(&cobra.Command{
		Use:   "list <subprocesso-id>",
		Short: "List activities with their knowledge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.ListarAtividades(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, a := range items {
					fmt.Printf("%s  %s\n", a.ID, a.Descricao)
					for _, k := range a.Conhecimentos {
						fmt.Printf("    - %s  %s\n", k.ID, k.Descricao)
					}
				}
				return nil
			})
		},
	})

	var origem string
	var ids []string
	importar := &cobra.Command{
		Use:   "importar <subprocesso-id>",
		Short: "Copy activities from another subprocess",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				res, err := e.ImportarAtividades(ctx, actor, args[0], origem, ids)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	importar.Flags().StringVar(&origem, "origem", "", "source subprocess id")
	importar.Flags().StringSliceVar(&ids, "atividades", nil, "activity ids to copy (default all)")
	_ = importar.MarkFlagRequired("origem")
	atv.AddCommand(importar)
	return atv
}

func conhecimentoCmd() *cobra.Command {
	con := &cobra.Command{Use: "conhecimento", Short: "Knowledge attached to activities"}
	var descricao string
	add := &cobra.Command{
		Use:   "add <atividade-id>",
		Short: "Add knowledge to an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.AddKnowledge(ctx, actor, args[0], descricao)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	add.Flags().StringVar(&descricao, "descricao", "", "description")
	_ = add.MarkFlagRequired("descricao")
	con.AddCommand(add)
	con.AddCommand(&cobra.Command{
		Use:   "rm <conhecimento-id>",
		Short: "Remove knowledge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.RemoveKnowledge(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	})
	return con
}

func competenciaCmd() *cobra.Command {
	comp := &cobra.Command{Use: "competencia", Short: "Map competencies"}

	var descricao string
	var atividades []string
	add := &cobra.Command{
		Use:   "add <subprocesso-id>",
		Short: "Create a competency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.CriarCompetencia(ctx, actor, args[0], descricao, atividades)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	add.Flags().StringVar(&descricao, "descricao", "", "description")
	add.Flags().StringSliceVar(&atividades, "atividades", nil, "linked activity ids")
	_ = add.MarkFlagRequired("descricao")
	comp.AddCommand(add)

	var editDescricao string
	var editAtividades []string
	edit := &cobra.Command{
		Use:   "edit <competencia-id>",
		Short: "Edit a competency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.EditarCompetencia(ctx, actor, args[0], editDescricao, editAtividades)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	edit.Flags().StringVar(&editDescricao, "descricao", "", "new description")
	edit.Flags().StringSliceVar(&editAtividades, "atividades", nil, "replacement activity ids")
	comp.AddCommand(edit)

	comp.AddCommand(&cobra.Command{
		Use:   "rm <competencia-id>",
		Short: "Delete a competency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.ExcluirCompetencia(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})

	comp.AddCommand(&cobra.Command{
		Use:   "list <subprocesso-id>",
		Short: "List competencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.ListarCompetencias(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Descricao", "Atividades"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Descricao, len(c.Atividades)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return comp
}

func loteCmd() *cobra.Command {
	lote := &cobra.Command{Use: "lote", Short: "Bulk operations"}
	for _, b := range []struct {
		use, short string
		fn         func(context.Context, engine.Engine, domain.Actor, []string, string) engine.BatchResult
	}{
		{"aceitar", "Accept many subprocesses", func(ctx context.Context, e engine.Engine, a domain.Actor, ids []string, obs string) engine.BatchResult {
			return e.AceitarEmBloco(ctx, a, ids, obs)
		}},
		{"homologar", "Homologate many subprocesses", func(ctx context.Context, e engine.Engine, a domain.Actor, ids []string, obs string) engine.BatchResult {
			return e.HomologarEmBloco(ctx, a, ids, obs)
		}},
		{"iniciar-mapa", "Open the map stage of many subprocesses", func(ctx context.Context, e engine.Engine, a domain.Actor, ids []string, _ string) engine.BatchResult {
			return e.IniciarMapaEmBloco(ctx, a, ids)
		}},
	} {
		b := b
		var observacao string
		cmd := &cobra.Command{
			Use:   b.use + " <subprocesso-id>...",
			Short: b.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
					res := b.fn(ctx, e, actor, args, observacao)
					if viper.GetBool("json") {
						return printJSON(res)
					}
					for _, id := range res.Sucesso {
						fmt.Println(color.GreenString("ok   "), id)
					}
					for _, f := range res.Falhas {
						fmt.Println(color.RedString("falha"), f.ID, f.Codigo, f.Erro)
					}
					return nil
				})
			},
		}
		cmd.Flags().StringVar(&observacao, "observacao", "", "observation recorded with each decision")
		lote.AddCommand(cmd)
	}
	return lote
}

func mapaCmd() *cobra.Command {
	mapa := &cobra.Command{Use: "mapa", Short: "Vigent maps"}
	mapa.AddCommand(&cobra.Command{
		Use:   "vigente <sigla>",
		Short: "Current official map of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				m, err := e.MapaVigente(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	})
	mapa.AddCommand(&cobra.Command{
		Use:   "historico <sigla>",
		Short: "Vigent map history of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.HistoricoMapas(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return mapa
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var processoID, evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Actor) error {
				items, err := e.LatestEvents(ctx, repo.EventFilters{
					ProcessoID: processoID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&processoID, "processo", "", "process id filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	logc.AddCommand(tail)
	return logc
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				actor, err := currentActor(env.Config)
				if err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				if err := env.Engine.Repo.UpsertActor(ctx, domain.ActorRecord{ID: actor.ID, Perfil: actor.Role, Unidade: actor.Unidade, CreatedAt: now}); err != nil {
					return err
				}
				key := "sgc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor.ID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: now,
				}
				if err := env.Engine.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": rec.ID, "actor_id": actor.ID, "key": key})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	keys.AddCommand(create)

	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				items, err := env.Engine.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})

	keys.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				return env.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return keys
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the current actor (needs SGC_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env app.Env) error {
				actor, err := currentActor(env.Config)
				if err != nil {
					return err
				}
				token, err := server.SignToken(viper.GetString("jwt-secret"), actor, ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			log := logger.Sugar()
			env, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), DBFile: viper.GetString("db"), Logger: log})
			if err != nil {
				return err
			}
			defer env.Close()

			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SGC_JWT_SECRET is required for bearer auth")
			}
			hooks := server.NewWebhookNotifier(env.Config.Webhooks, log)
			// delivery outlives the signal so Close can drain the queue
			hooks.Start(context.WithoutCancel(cmd.Context()))
			defer hooks.Close()
			e := env.Engine
			e.Notifier = engine.MultiNotifier{engine.LogNotifier{Logger: log}, hooks}

			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: log})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			drained := make(chan struct{})
			go func() {
				defer close(drained)
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Infow("serving", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving SGC API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			// in-flight handlers may still notify until Shutdown returns
			<-drained
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func printUnits(units []domain.Unit) error {
	if viper.GetBool("json") {
		return printJSON(units)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Sigla", "Nome", "Tipo", "Titular", "Superior"})
	for _, u := range units {
		tw.AppendRow(table.Row{u.Sigla, u.Nome, u.Tipo, u.Titular, u.Parent})
	}
	tw.Render()
	return nil
}

func printSubprocesses(subs []domain.Subprocess) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Unidade", "Situacao", "Unidade atual", "Mapa validado"})
	for _, s := range subs {
		tw.AppendRow(table.Row{s.ID, s.Unidade, colorSituacao(s.Situacao), s.UnidadeAtual, s.MapaValidado})
	}
	tw.Render()
}

func colorSituacao(s domain.SubprocessState) string {
	v := string(s)
	switch {
	case strings.HasSuffix(v, "_HOMOLOGADO"):
		return color.New(color.FgHiGreen).Sprint(v)
	case strings.HasSuffix(v, "_DISPONIBILIZADO"):
		return color.New(color.FgYellow).Sprint(v)
	default:
		return color.New(color.FgCyan).Sprint(v)
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
