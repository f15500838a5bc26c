// Package gitrepo keeps the write history of each guide version in its
// own git repository, one guia.json per commit.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "guia.json"
	mainBranch  = "main"
)

var ErrNoHistory = errors.New("version has no history")

var ErrUnknownCommit = errors.New("unknown commit")

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	// Fields lists the top-level guide fields changed by the commit.
	Fields []string `json:"fields"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitVersion records content as the latest state of versionID. The
// repository is created on first use. Content equal to the head is not
// committed again and the head hash is returned.
func (s *Service) CommitVersion(versionID string, content []byte, author, message string) (string, error) {
	lock := s.versionLock(versionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(versionID)
	if err != nil {
		return "", err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, content, "", "  "); err != nil {
		return "", fmt.Errorf("format guide content: %w", err)
	}
	pretty.WriteByte('\n')
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), pretty.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return "", fmt.Errorf("git add content: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		if head, err := repo.Head(); err == nil {
			return head.Hash().String()[:7], nil
		}
	}

	if author == "" {
		author = "guias"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@guias.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit content: %w", err)
	}
	return hash.String()[:7], nil
}

// History lists the commits of versionID, newest first.
func (s *Service) History(versionID string, limit int) ([]CommitInfo, error) {
	lock := s.versionLock(versionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(versionID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		info, err := describe(commitObj)
		if err != nil {
			return err
		}
		items = append(items, info)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns guia.json as of the given commit. hash may be
// abbreviated.
func (s *Service) ContentAt(versionID, hash string) (json.RawMessage, error) {
	lock := s.versionLock(versionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(versionID)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("read commit %s: %w", hash, ErrUnknownCommit)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContent(commitObj)
}

func (s *Service) repoPath(versionID string) string {
	return filepath.Join(s.baseDir, versionID)
}

func (s *Service) versionLock(versionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[versionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[versionID] = lock
	return lock
}

func (s *Service) open(versionID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(versionID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(versionID string) (*git.Repository, error) {
	repo, err := s.open(versionID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}

	path := s.repoPath(versionID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(mainBranch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func describe(commitObj *object.Commit) (CommitInfo, error) {
	info := CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	after, err := readContent(commitObj)
	if err != nil {
		return CommitInfo{}, err
	}
	var before json.RawMessage
	if commitObj.NumParents() > 0 {
		parent, err := commitObj.Parent(0)
		if err != nil {
			return CommitInfo{}, fmt.Errorf("load parent of %s: %w", info.Hash, err)
		}
		if before, err = readContent(parent); err != nil {
			return CommitInfo{}, err
		}
	}
	info.Fields = ChangedFields(before, after)
	return info, nil
}

func readContent(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return json.RawMessage(contents), nil
}

// ChangedFields compares two guide documents key by key at the top level
// and returns the keys whose values differ, sorted. A nil before means
// every key of after is new.
func ChangedFields(before, after json.RawMessage) []string {
	from := topLevel(before)
	to := topLevel(after)
	changed := make([]string, 0)
	for key, value := range to {
		if prev, ok := from[key]; !ok || !bytes.Equal(compact(prev), compact(value)) {
			changed = append(changed, key)
		}
	}
	for key := range from {
		if _, ok := to[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

func topLevel(doc json.RawMessage) map[string]json.RawMessage {
	fields := map[string]json.RawMessage{}
	if len(doc) == 0 {
		return fields
	}
	_ = json.Unmarshal(doc, &fields)
	return fields
}

func compact(value json.RawMessage) []byte {
	var out bytes.Buffer
	if err := json.Compact(&out, value); err != nil {
		return value
	}
	return out.Bytes()
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" || len(hash) > 40 || strings.Trim(hash, "0123456789abcdef") != "" {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %q: %w", hash, ErrUnknownCommit)
	}
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, ErrUnknownCommit)
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
