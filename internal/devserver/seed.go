package devserver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tOgg1/opsdesk/internal/db"
	"github.com/tOgg1/opsdesk/internal/models"
)

// Seed is the initial backend content, loaded from YAML.
type Seed struct {
	Users    []SeedUser    `yaml:"users"`
	Channels []SeedChannel `yaml:"channels"`
	Tasks    []SeedTask    `yaml:"tasks"`
}

type SeedUser struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedChannel struct {
	ID      int64              `yaml:"id"`
	Name    string             `yaml:"name"`
	Kind    models.ChannelKind `yaml:"kind"`
	Members []int64            `yaml:"members"`
}

type SeedTask struct {
	ID       int64             `yaml:"id"`
	Title    string            `yaml:"title"`
	Status   models.TaskStatus `yaml:"status"`
	Priority models.Priority   `yaml:"priority"`
}

// DefaultSeed is used when no seed file is configured.
func DefaultSeed() *Seed {
	return &Seed{
		Users: []SeedUser{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}, {ID: 3, Name: "carol"}},
		Channels: []SeedChannel{
			{ID: 1, Name: "general", Kind: models.ChannelKindGroup, Members: []int64{1, 2, 3}},
			{ID: 2, Name: "ops", Kind: models.ChannelKindDepartment, Members: []int64{1, 2}},
			{ID: 3, Name: "launch", Kind: models.ChannelKindTaskMirror, Members: []int64{1, 3}},
		},
		Tasks: []SeedTask{
			{ID: 12, Title: "Rotate on-call schedule", Status: models.TaskStatusTodo, Priority: models.PriorityNormal},
			{ID: 31, Title: "Cut release branch", Status: models.TaskStatusInProgress, Priority: models.PriorityHigh},
		},
	}
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return &seed, nil
}

// Validate checks ids and enumerations.
func (s *Seed) Validate() error {
	for i, u := range s.Users {
		if u.ID <= 0 {
			return fmt.Errorf("users[%d]: %w", i, models.ErrInvalidUser)
		}
	}
	for i, ch := range s.Channels {
		if ch.ID <= 0 {
			return fmt.Errorf("channels[%d]: %w", i, models.ErrInvalidChannel)
		}
		if !ch.Kind.Valid() {
			return fmt.Errorf("channels[%d]: invalid kind %q", i, ch.Kind)
		}
	}
	for i, t := range s.Tasks {
		if t.ID <= 0 {
			return fmt.Errorf("tasks[%d]: invalid id", i)
		}
		if _, err := models.ParseTaskStatus(string(t.Status)); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if err := models.ValidatePriority(t.Priority); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	return nil
}

// Apply writes the seed. Users are upserted; channels and tasks that
// already exist are left alone so restarts keep live state.
func (s *Seed) Apply(ctx context.Context, database *db.DB) error {
	users := db.NewUserRepository(database)
	for _, u := range s.Users {
		if err := users.Upsert(ctx, models.UserRef{ID: u.ID, DisplayName: u.Name}); err != nil {
			return err
		}
	}

	channels := db.NewChannelRepository(database)
	for _, ch := range s.Channels {
		_, err := channels.Get(ctx, ch.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, db.ErrChannelNotFound) {
			return err
		}
		if _, err := channels.Create(ctx, models.Channel{ID: ch.ID, Name: ch.Name, Kind: ch.Kind, MemberIDs: ch.Members}); err != nil {
			return fmt.Errorf("seed channel %d: %w", ch.ID, err)
		}
	}

	tasks := db.NewTaskRepository(database)
	for _, t := range s.Tasks {
		_, err := tasks.Get(ctx, t.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, db.ErrTaskNotFound) {
			return err
		}
		if err := tasks.Upsert(ctx, models.Task{ID: t.ID, Title: t.Title, Status: t.Status, Priority: t.Priority}); err != nil {
			return fmt.Errorf("seed task %d: %w", t.ID, err)
		}
	}
	return nil
}
