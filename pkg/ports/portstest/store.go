// Package portstest provides in-memory port implementations for tests.
package portstest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// InMemoryStore is a ports.RelationalStore backed by maps. WithinTx
// applies fn against a deep copy and merges on success, so a returned
// error leaves no partial writes.
type InMemoryStore struct {
	mu   sync.Mutex
	data *storeData

	// FailTx forces WithinTx to fail before running fn.
	FailTx error
}

type storeData struct {
	chats         []models.ChatRecord
	mastery       map[string]models.MasteryRecord // user|subject|topic
	weakAreas     map[string]models.WeakArea
	installations map[string]models.VKPInstallation // subject|grade
	users         map[string]bool
	subjects      map[string]bool
	practice      []models.PracticeQuestion
}

func newStoreData() *storeData {
	return &storeData{
		mastery:       make(map[string]models.MasteryRecord),
		weakAreas:     make(map[string]models.WeakArea),
		installations: make(map[string]models.VKPInstallation),
		users:         make(map[string]bool),
		subjects:      make(map[string]bool),
	}
}

func (d *storeData) clone() *storeData {
	c := newStoreData()
	c.chats = append([]models.ChatRecord(nil), d.chats...)
	for k, v := range d.mastery {
		c.mastery[k] = v
	}
	for k, v := range d.weakAreas {
		c.weakAreas[k] = v
	}
	for k, v := range d.installations {
		c.installations[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.subjects {
		c.subjects[k] = v
	}
	c.practice = append([]models.PracticeQuestion(nil), d.practice...)
	return c
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: newStoreData()}
}

// AddUser seeds the user directory.
func (s *InMemoryStore) AddUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[id] = true
}

// AddSubject seeds the subject list.
func (s *InMemoryStore) AddSubject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.subjects[id] = true
}

// AddPractice seeds the question bank.
func (s *InMemoryStore) AddPractice(qs ...models.PracticeQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.practice = append(s.data.practice, qs...)
}

// ChatCount reports persisted chat records.
func (s *InMemoryStore) ChatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.chats)
}

func (s *InMemoryStore) Repos() ports.RepositorySet {
	return &repoSet{store: s, data: nil}
}

func (s *InMemoryStore) WithinTx(_ context.Context, fn func(ports.RepositorySet) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTx != nil {
		return s.FailTx
	}
	scratch := s.data.clone()
	if err := fn(&repoSet{store: s, data: scratch}); err != nil {
		return err
	}
	s.data = scratch
	return nil
}

func (s *InMemoryStore) Health(context.Context) error { return nil }

// repoSet reads/writes either live store data (data == nil, locking per
// call) or a transaction scratch copy (data != nil, lock already held).
type repoSet struct {
	store *InMemoryStore
	data  *storeData
}

func (r *repoSet) with(fn func(d *storeData)) {
	if r.data != nil {
		fn(r.data)
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	fn(r.store.data)
}

func (r *repoSet) Chats() ports.ChatRepository                 { return chatRepo{r} }
func (r *repoSet) Mastery() ports.MasteryRepository            { return masteryRepo{r} }
func (r *repoSet) WeakAreas() ports.WeakAreaRepository         { return weakRepo{r} }
func (r *repoSet) Installations() ports.InstallationRepository { return instRepo{r} }
func (r *repoSet) Users() ports.UserRepository                 { return userRepo{r} }
func (r *repoSet) Subjects() ports.SubjectRepository           { return subjectRepo{r} }
func (r *repoSet) Practice() ports.PracticeRepository          { return practiceRepo{r} }

func masteryKey(user, subject, topic string) string {
	return strings.Join([]string{user, subject, topic}, "|")
}

type chatRepo struct{ r *repoSet }

func (c chatRepo) Insert(_ context.Context, rec *models.ChatRecord) error {
	c.r.with(func(d *storeData) { d.chats = append(d.chats, *rec) })
	return nil
}

func (c chatRepo) Count(context.Context) (int, error) {
	var n int
	c.r.with(func(d *storeData) { n = len(d.chats) })
	return n, nil
}

func (c chatRepo) ListSince(_ context.Context, since time.Time) ([]models.ChatRecord, error) {
	var out []models.ChatRecord
	c.r.with(func(d *storeData) {
		for _, rec := range d.chats {
			if !rec.CreatedAt.Before(since) {
				out = append(out, rec)
			}
		}
	})
	return out, nil
}

type masteryRepo struct{ r *repoSet }

func (m masteryRepo) Get(_ context.Context, user, subject, topic string) (*models.MasteryRecord, error) {
	var rec models.MasteryRecord
	found := false
	m.r.with(func(d *storeData) {
		rec, found = d.mastery[masteryKey(user, subject, topic)]
	})
	if !found {
		return nil, ports.ErrNotFound
	}
	return &rec, nil
}

func (m masteryRepo) Upsert(_ context.Context, rec *models.MasteryRecord) error {
	m.r.with(func(d *storeData) {
		d.mastery[masteryKey(rec.UserID, rec.SubjectID, rec.Topic)] = *rec
	})
	return nil
}

func (m masteryRepo) ListBySubject(_ context.Context, user, subject string) ([]models.MasteryRecord, error) {
	var out []models.MasteryRecord
	m.r.with(func(d *storeData) {
		for _, rec := range d.mastery {
			if rec.UserID == user && rec.SubjectID == subject {
				out = append(out, rec)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

type weakRepo struct{ r *repoSet }

func (w weakRepo) Upsert(_ context.Context, area *models.WeakArea) error {
	w.r.with(func(d *storeData) {
		d.weakAreas[masteryKey(area.UserID, area.SubjectID, area.Topic)] = *area
	})
	return nil
}

func (w weakRepo) Delete(_ context.Context, user, subject, topic string) error {
	w.r.with(func(d *storeData) {
		delete(d.weakAreas, masteryKey(user, subject, topic))
	})
	return nil
}

func (w weakRepo) List(_ context.Context, user, subject string) ([]models.WeakArea, error) {
	var out []models.WeakArea
	w.r.with(func(d *storeData) {
		for _, area := range d.weakAreas {
			if area.UserID == user && area.SubjectID == subject {
				out = append(out, area)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

type instRepo struct{ r *repoSet }

func (i instRepo) Get(_ context.Context, subject, grade string) (*models.VKPInstallation, error) {
	var inst models.VKPInstallation
	found := false
	i.r.with(func(d *storeData) {
		inst, found = d.installations[subject+"|"+grade]
	})
	if !found {
		return nil, ports.ErrNotFound
	}
	return &inst, nil
}

func (i instRepo) Upsert(_ context.Context, inst *models.VKPInstallation) error {
	i.r.with(func(d *storeData) {
		d.installations[inst.Subject+"|"+inst.Grade] = *inst
	})
	return nil
}

func (i instRepo) List(context.Context) ([]models.VKPInstallation, error) {
	var out []models.VKPInstallation
	i.r.with(func(d *storeData) {
		for _, inst := range d.installations {
			out = append(out, inst)
		}
	})
	sort.Slice(out, func(a, b int) bool {
		return out[a].Subject+out[a].Grade < out[b].Subject+out[b].Grade
	})
	return out, nil
}

type userRepo struct{ r *repoSet }

func (u userRepo) Exists(_ context.Context, id string) (bool, error) {
	var ok bool
	u.r.with(func(d *storeData) { ok = d.users[id] })
	return ok, nil
}

type subjectRepo struct{ r *repoSet }

func (s subjectRepo) Exists(_ context.Context, id string) (bool, error) {
	var ok bool
	s.r.with(func(d *storeData) { ok = d.subjects[id] })
	return ok, nil
}

type practiceRepo struct{ r *repoSet }

func (p practiceRepo) ListBySubject(_ context.Context, subject string) ([]models.PracticeQuestion, error) {
	var out []models.PracticeQuestion
	p.r.with(func(d *storeData) {
		for _, q := range d.practice {
			if q.SubjectID == subject {
				out = append(out, q)
			}
		}
	})
	return out, nil
}
