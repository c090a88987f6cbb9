package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

const stagedPrefix = ".staged-"

func isStaged(name string) bool {
	return strings.HasPrefix(name, stagedPrefix)
}

// Batch stages writes next to their destination and moves them into place
// only on Commit. Listings never show staged files.
type Batch struct {
	repo   Repository
	staged []stagedFile
	done   bool
}

type stagedFile struct {
	temp string
	dest string
}

func NewBatch(repo Repository) *Batch {
	return &Batch{repo: repo}
}

// Write stages content for name. Nothing is visible at name until Commit.
func (b *Batch) Write(ctx context.Context, name string, content []byte) error {
	if b.done {
		return errors.New("batch already finished")
	}
	dir, base := path.Split(name)
	temp := dir + stagedPrefix + uuid.NewString() + "-" + base
	if err := b.repo.Write(ctx, temp, content); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	b.staged = append(b.staged, stagedFile{temp: temp, dest: name})
	return nil
}

func (b *Batch) Len() int {
	return len(b.staged)
}

// Commit renames every staged file into place. If a rename fails the
// remaining staged files are discarded.
func (b *Batch) Commit(ctx context.Context) error {
	if b.done {
		return errors.New("batch already finished")
	}
	b.done = true
	for i, f := range b.staged {
		if err := b.repo.Rename(ctx, f.temp, f.dest); err != nil {
			b.cleanup(ctx, b.staged[i:])
			return fmt.Errorf("commit %s: %w", f.dest, err)
		}
	}
	b.staged = nil
	return nil
}

// Discard drops every staged file. It is safe to call after Commit.
func (b *Batch) Discard(ctx context.Context) {
	if b.done {
		return
	}
	b.done = true
	b.cleanup(ctx, b.staged)
	b.staged = nil
}

func (b *Batch) cleanup(ctx context.Context, files []stagedFile) {
	for _, f := range files {
		_ = b.repo.Delete(context.WithoutCancel(ctx), f.temp)
	}
}
