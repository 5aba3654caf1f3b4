package repository

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fathima-sithara/realtime-service/internal/domain"
)

// Seed is the fixture format loaded by LoadSeed.
type Seed struct {
	Rooms []struct {
		ID       string   `yaml:"id"`
		Name     string   `yaml:"name"`
		Members  []string `yaml:"members"`
		Messages []struct {
			SenderID string `yaml:"sender_id"`
			Content  string `yaml:"content"`
			Type     string `yaml:"type"`
		} `yaml:"messages"`
	} `yaml:"rooms"`
	Documents []struct {
		ID            string   `yaml:"id"`
		Title         string   `yaml:"title"`
		Content       string   `yaml:"content"`
		Type          string   `yaml:"type"`
		OwnerID       string   `yaml:"owner_id"`
		Visibility    string   `yaml:"visibility"`
		Collaborators []string `yaml:"collaborators"`
	} `yaml:"documents"`
}

func ParseSeed(b []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}

// LoadSeed reads a YAML fixture file and writes it through gw.
func LoadSeed(ctx context.Context, gw Gateway, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := ParseSeed(b)
	if err != nil {
		return err
	}
	return s.Apply(ctx, gw)
}

func (s *Seed) Apply(ctx context.Context, gw Gateway) error {
	now := time.Now().UTC()
	for _, r := range s.Rooms {
		if r.ID == "" {
			return fmt.Errorf("seed room without id")
		}
		if err := gw.CreateRoom(ctx, &domain.Room{ID: r.ID, Name: r.Name, CreatedAt: now}); err != nil {
			return fmt.Errorf("seed room %s: %w", r.ID, err)
		}
		for _, u := range r.Members {
			if err := gw.AddRoomMember(ctx, domain.RoomMembership{RoomID: r.ID, UserID: u, JoinedAt: now}); err != nil {
				return fmt.Errorf("seed member %s/%s: %w", r.ID, u, err)
			}
		}
		for i, m := range r.Messages {
			typ := domain.MessageType(m.Type)
			if typ == "" {
				typ = domain.MessageText
			}
			msg := &domain.ChatMessage{
				ID:        uuid.Must(uuid.NewV7()).String(),
				RoomID:    r.ID,
				SenderID:  m.SenderID,
				Content:   m.Content,
				Type:      typ,
				CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			}
			if err := gw.InsertMessage(ctx, msg); err != nil {
				return fmt.Errorf("seed message in %s: %w", r.ID, err)
			}
		}
	}
	for _, d := range s.Documents {
		if d.ID == "" {
			return fmt.Errorf("seed document without id")
		}
		typ := domain.DocumentType(d.Type)
		if typ == "" {
			typ = domain.DocumentText
		}
		vis := domain.Visibility(d.Visibility)
		if vis == "" {
			vis = domain.VisibilityPrivate
		}
		doc := &domain.Document{
			ID:            d.ID,
			Title:         d.Title,
			Content:       d.Content,
			Type:          typ,
			Version:       1,
			OwnerID:       d.OwnerID,
			Visibility:    vis,
			Collaborators: d.Collaborators,
			CreatedAt:     now,
		}
		if err := gw.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("seed document %s: %w", d.ID, err)
		}
	}
	return nil
}
