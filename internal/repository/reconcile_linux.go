//go:build linux

package repository

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"syscall"
	"unsafe"
)

// Linux inotify event flag constants (kernel ABI), ported from
// internal/watcher/inotify_linux.go's const block.
const (
	inDelete       uint32 = 0x200
	inIsDir        uint32 = 0x40000000
	inotifyCloexec        = 0x80000
)

var inotifyEventSize = int(unsafe.Sizeof(syscall.InotifyEvent{}))

// Watcher reconciles the repository's in-memory index against files
// deleted out-of-band (e.g. by an operator, or another process), using
// inotify IN_DELETE notifications on the log directory (spec §5). It
// mirrors the self-pipe shutdown shape of internal/watcher/inotify_linux.go.
//
// This file carries no non-Linux counterpart: the daemon is OpenBMC
// firmware and never runs on a non-Linux GOOS, unlike the cross-platform
// agent this package's inotify plumbing was adapted from.
type Watcher struct {
	repo   *Repository
	logger *slog.Logger

	inotifyFd int
	pipeR     int
	pipeW     int

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a reconciliation watcher for repo's log directory.
func NewWatcher(repo *Repository, logger *slog.Logger) (*Watcher, error) {
	ifd, err := syscall.InotifyInit1(inotifyCloexec)
	if err != nil {
		return nil, fmt.Errorf("repository: inotify init: %w", err)
	}
	var pipeFds [2]int
	if err := syscall.Pipe2(pipeFds[:], syscall.O_CLOEXEC); err != nil {
		syscall.Close(ifd)
		return nil, fmt.Errorf("repository: pipe2: %w", err)
	}
	if _, err := syscall.InotifyAddWatch(ifd, repo.logDir, inDelete); err != nil {
		syscall.Close(ifd)
		syscall.Close(pipeFds[0])
		syscall.Close(pipeFds[1])
		return nil, fmt.Errorf("repository: watch %s: %w", repo.logDir, err)
	}

	return &Watcher{
		repo:      repo,
		logger:    logger,
		inotifyFd: ifd,
		pipeR:     pipeFds[0],
		pipeW:     pipeFds[1],
	}, nil
}

// Start begins monitoring in a background goroutine. Safe to call once.
func (w *Watcher) Start(_ context.Context) {
	w.wg.Add(1)
	go w.run()
}

// Stop signals the watcher to exit and blocks until it has.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		syscall.Write(w.pipeW, []byte{0}) //nolint:errcheck
		w.wg.Wait()
		syscall.Close(w.pipeW)
		syscall.Close(w.pipeR)
		syscall.Close(w.inotifyFd)
	})
}

func (w *Watcher) run() {
	defer w.wg.Done()

	const bufSize = 256 * (16 + 256)
	buf := make([]byte, bufSize)

	pollFds := []syscall.PollFd{
		{Fd: int32(w.inotifyFd), Events: syscall.POLLIN},
		{Fd: int32(w.pipeR), Events: syscall.POLLIN},
	}

	for {
		_, err := syscall.Poll(pollFds, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			w.logger.Warn("repository watcher: poll error", slog.Any("error", err))
			return
		}
		if pollFds[1].Revents&syscall.POLLIN != 0 {
			return
		}
		if pollFds[0].Revents&syscall.POLLIN == 0 {
			continue
		}

		n, err := syscall.Read(w.inotifyFd, buf)
		if err != nil {
			w.logger.Warn("repository watcher: read error", slog.Any("error", err))
			return
		}
		w.dispatch(buf[:n])
	}
}

func (w *Watcher) dispatch(buf []byte) {
	offset := 0
	for offset+inotifyEventSize <= len(buf) {
		raw := (*syscall.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameLen := int(raw.Len)
		nameStart := offset + inotifyEventSize
		var name string
		if nameLen > 0 && nameStart+nameLen <= len(buf) {
			nameBytes := buf[nameStart : nameStart+nameLen]
			for i, c := range nameBytes {
				if c == 0 {
					nameBytes = nameBytes[:i]
					break
				}
			}
			name = string(nameBytes)
		}
		offset = nameStart + nameLen

		if raw.Mask&inDelete != 0 && raw.Mask&inIsDir == 0 && name != "" {
			path := filepath.Join(w.repo.logDir, name)
			w.repo.mu.Lock()
			w.repo.reconcileDeletedLocked(path)
			w.repo.mu.Unlock()
		}
	}
}
