package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CrowderSoup/boardsync/database"
	"github.com/CrowderSoup/boardsync/models"
	"github.com/CrowderSoup/boardsync/services"
)

func seedCmd() *cobra.Command {
	var file, owner string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a board from a YAML fixture",
		Long: `Create a board, its lists, cards and tasks from a YAML fixture.

Tasks name each other by a local key:

  name: Launch
  lists:
    - name: Todo
      cards:
        - title: Landing page
          tasks:
            - {key: copy, title: Write copy}
            - {key: build, title: Build page, dependsOn: copy,
               autoAssignOnUnlock: true, assignToOnUnlock: [u1]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			fx, err := readFixture(file)
			if err != nil {
				return err
			}
			db, err := database.InitDB(cfg.DBPath, log)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			b, err := seedBoard(cmd.Context(), database.NewBoardService(db, log), owner, fx, log)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "board.yaml", "fixture file")
	cmd.Flags().StringVar(&owner, "owner", "u1", "user id of the board owner")
	return cmd
}

func tokenCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			token, err := services.NewAuthService(cfg.JWTSecret).CreateJWT(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

type boardFixture struct {
	Name       string            `yaml:"name"`
	Background string            `yaml:"background"`
	Visibility models.Visibility `yaml:"visibility"`
	Lists      []listFixture     `yaml:"lists"`
}

type listFixture struct {
	Name     string              `yaml:"name"`
	Settings models.ListSettings `yaml:"settings"`
	Cards    []cardFixture       `yaml:"cards"`
}

type cardFixture struct {
	Title string        `yaml:"title"`
	Tasks []taskFixture `yaml:"tasks"`
}

type taskFixture struct {
	Key                string   `yaml:"key"`
	Title              string   `yaml:"title"`
	Completed          bool     `yaml:"completed"`
	DependsOn          string   `yaml:"dependsOn"`
	AssignedTo         []string `yaml:"assignedTo"`
	AutoAssignOnUnlock bool     `yaml:"autoAssignOnUnlock"`
	AssignToOnUnlock   []string `yaml:"assignToOnUnlock"`
	Subtasks           []string `yaml:"subtasks"`
}

func readFixture(path string) (*boardFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var fx boardFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	if fx.Name == "" {
		return nil, fmt.Errorf("fixture %s: board name is required", path)
	}
	return &fx, nil
}

// seedBoard writes fx through the same service the API uses, so every
// fixture obeys the dependency and ordering rules. A dependsOn key must
// name an earlier task on the same card.
func seedBoard(ctx context.Context, svc *database.BoardService, owner string, fx *boardFixture, log zerolog.Logger) (*models.Board, error) {
	b, err := svc.CreateBoard(ctx, owner, models.NewBoard{Name: fx.Name, Background: fx.Background, Visibility: fx.Visibility})
	if err != nil {
		return nil, err
	}
	for _, lf := range fx.Lists {
		l, err := svc.CreateList(ctx, b.ID, lf.Name, -1, lf.Settings)
		if err != nil {
			return nil, err
		}
		for _, cf := range lf.Cards {
			c, err := svc.CreateCard(ctx, l.ID, cf.Title, -1)
			if err != nil {
				return nil, err
			}
			if err := seedTasks(ctx, svc, c.ID, cf.Tasks); err != nil {
				return nil, fmt.Errorf("card %q: %w", cf.Title, err)
			}
		}
	}
	log.Info().Str("board", b.ID).Int("lists", len(fx.Lists)).Msg("board seeded")
	return b, nil
}

// seedTasks creates every task first and completes them afterwards, in
// fixture order, so completing a dependency unlocks its dependents.
func seedTasks(ctx context.Context, svc *database.BoardService, cardID string, tasks []taskFixture) error {
	ids := map[string]string{}
	created := make([]string, len(tasks))
	for i, tf := range tasks {
		dep := ""
		if tf.DependsOn != "" {
			var ok bool
			if dep, ok = ids[tf.DependsOn]; !ok {
				return fmt.Errorf("task %q depends on unknown key %q", tf.Title, tf.DependsOn)
			}
			if len(tf.AssignedTo) > 0 {
				return fmt.Errorf("task %q starts locked, use assignToOnUnlock instead of assignedTo", tf.Title)
			}
		}
		t, err := svc.AddTask(ctx, cardID, models.NewTask{
			Title:              tf.Title,
			DependsOn:          dep,
			AutoAssignOnUnlock: tf.AutoAssignOnUnlock,
			AssignToOnUnlock:   tf.AssignToOnUnlock,
		})
		if err != nil {
			return err
		}
		created[i] = t.ID
		if tf.Key != "" {
			ids[tf.Key] = t.ID
		}
		if len(tf.AssignedTo) > 0 {
			assignees := tf.AssignedTo
			if _, err := svc.UpdateTask(ctx, cardID, t.ID, models.TaskUpdate{AssignedTo: &assignees}); err != nil {
				return fmt.Errorf("task %q: %w", tf.Title, err)
			}
		}
		for _, title := range tf.Subtasks {
			if _, err := svc.AddSubtask(ctx, cardID, t.ID, title); err != nil {
				return err
			}
		}
	}

	done := true
	for i, tf := range tasks {
		if !tf.Completed {
			continue
		}
		if _, err := svc.UpdateTask(ctx, cardID, created[i], models.TaskUpdate{Completed: &done}); err != nil {
			return fmt.Errorf("task %q: %w", tf.Title, err)
		}
	}
	return nil
}
