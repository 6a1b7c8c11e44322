// watcher.go: Polling file watcher for reloadable configuration sources
//
// Philosophy:
// - Polling-based approach for maximum OS portability
// - os.Stat() results cached with go-timecache timestamps to minimize syscalls
// - Lock-free stat cache (copy-on-write behind atomic.Pointer)
// - Callbacks run on the polling goroutines; a panicking callback is recovered
//
// Example Usage:
//
//	watcher, _ := propbind.NewWatcher(propbind.Config{PollInterval: time.Second})
//	_ = watcher.Watch("app.yaml", func(event propbind.ChangeEvent) {
//	    _, _ = binder.Refresh(context.Background())
//	})
//	_ = watcher.Start()
//	defer watcher.Close()
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package propbind

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// ChangeEvent represents a file change notification
type ChangeEvent struct {
	Path     string    // File path that changed
	ModTime  time.Time // New modification time
	Size     int64     // New file size
	IsCreate bool      // True if file was created
	IsDelete bool      // True if file was deleted
	IsModify bool      // True if file was modified
}

// UpdateCallback is called when a watched file changes
type UpdateCallback func(event ChangeEvent)

// fileStat is a cached os.Stat() result.
type fileStat struct {
	modTime  time.Time
	size     int64
	exists   bool
	cachedAt int64 // timecache nano timestamp
}

func (fs *fileStat) isExpired(ttl time.Duration) bool {
	return (timecache.CachedTimeNano() - fs.cachedAt) > int64(ttl)
}

type watchedFile struct {
	path     string
	callback UpdateCallback
	lastStat fileStat
}

// Watcher monitors configuration files for changes
type Watcher struct {
	config  Config
	files   map[string]*watchedFile
	filesMu sync.RWMutex

	statCache atomic.Pointer[map[string]fileStat]

	auditLogger *AuditLogger
	logger      *slog.Logger

	running   atomic.Bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	hooksMu    sync.Mutex
	closeHooks []func()
}

// NewWatcher creates a file watcher. The configuration is completed with
// defaults and validated; an audit backend that cannot be opened is an error.
func NewWatcher(config Config) (*Watcher, error) {
	cfg := config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auditLogger, err := NewAuditLogger(cfg.Audit)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		config:      *cfg,
		files:       make(map[string]*watchedFile),
		auditLogger: auditLogger,
		logger:      cfg.Logger,
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	initialCache := make(map[string]fileStat)
	w.statCache.Store(&initialCache)
	return w, nil
}

// AuditLogger returns the watcher's audit logger. It is a no-op logger when
// auditing is disabled.
func (w *Watcher) AuditLogger() *AuditLogger {
	return w.auditLogger
}

// Watch adds a file to the watch list. The file does not need to exist yet.
func (w *Watcher) Watch(path string, callback UpdateCallback) error {
	if callback == nil {
		return errors.New(ErrCodeInvalidConfig, "callback cannot be nil")
	}

	absPath, err := w.validateAndSecurePath(path)
	if err != nil {
		return err
	}

	w.auditLogger.LogFileWatch(AuditEventWatchStart, absPath)
	return w.addWatchedFile(absPath, callback)
}

// validateAndSecurePath validates path security and returns absolute path
func (w *Watcher) validateAndSecurePath(path string) (string, error) {
	if err := ValidateSecurePath(path); err != nil {
		w.auditLogger.LogSecurityEvent("path_traversal_attempt", map[string]interface{}{
			"rejected_path": path,
			"reason":        err.Error(),
		})
		return "", errors.Wrap(err, ErrCodeInvalidConfig, "invalid or unsafe file path").
			WithContext("path", path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, ErrCodeInvalidConfig, "invalid file path").
			WithContext("path", path)
	}

	if err := ValidateSecurePath(absPath); err != nil {
		w.auditLogger.LogSecurityEvent("path_traversal_attempt", map[string]interface{}{
			"rejected_path": absPath,
			"original_path": path,
			"reason":        err.Error(),
		})
		return "", errors.Wrap(err, ErrCodeInvalidConfig, "resolved path is unsafe").
			WithContext("absolute_path", absPath).
			WithContext("original_path", path)
	}

	if err := w.validateSymlinks(absPath, path); err != nil {
		return "", err
	}
	return absPath, nil
}

// validateSymlinks resolves symlinks and validates the final target
func (w *Watcher) validateSymlinks(absPath, originalPath string) error {
	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil || realPath == absPath {
		return nil
	}

	if err := ValidateSecurePath(realPath); err != nil {
		w.auditLogger.LogSecurityEvent("symlink_traversal_attempt", map[string]interface{}{
			"symlink_path":  absPath,
			"resolved_path": realPath,
			"original_path": originalPath,
			"reason":        err.Error(),
		})
		return errors.Wrap(err, ErrCodeInvalidConfig, "symlink target is unsafe").
			WithContext("symlink_path", absPath).
			WithContext("resolved_path", realPath)
	}

	if isSystemDirectory(realPath) {
		w.auditLogger.LogSecurityEvent("symlink_system_access", map[string]interface{}{
			"symlink_path":  absPath,
			"resolved_path": realPath,
			"original_path": originalPath,
		})
		return errors.New(ErrCodeInvalidConfig, "symlink target accesses restricted system directory").
			WithContext("symlink_path", absPath).
			WithContext("resolved_path", realPath)
	}
	return nil
}

func isSystemDirectory(path string) bool {
	lowerPath := strings.ToLower(path)
	return strings.HasPrefix(path, "/etc/") ||
		strings.HasPrefix(path, "/proc/") ||
		strings.HasPrefix(path, "/sys/") ||
		strings.HasPrefix(path, "/dev/") ||
		strings.Contains(lowerPath, "windows\\system32") ||
		strings.Contains(lowerPath, "program files")
}

func (w *Watcher) addWatchedFile(absPath string, callback UpdateCallback) error {
	w.filesMu.Lock()
	defer w.filesMu.Unlock()

	if _, exists := w.files[absPath]; !exists && len(w.files) >= w.config.MaxWatchedFiles {
		w.auditLogger.LogSecurityEvent("watch_limit_exceeded", map[string]interface{}{
			"path":          absPath,
			"max_files":     w.config.MaxWatchedFiles,
			"current_files": len(w.files),
		})
		return errors.New(ErrCodeInvalidConfig, "maximum watched files exceeded").
			WithContext("max_files", w.config.MaxWatchedFiles).
			WithContext("current_files", len(w.files))
	}

	initialStat, err := w.getStat(absPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeFileNotFound, "failed to stat file").
			WithContext("path", absPath)
	}

	w.files[absPath] = &watchedFile{
		path:     absPath,
		callback: callback,
		lastStat: initialStat,
	}
	return nil
}

// Unwatch removes a file from the watch list
func (w *Watcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "invalid file path").
			WithContext("path", path)
	}

	w.filesMu.Lock()
	delete(w.files, absPath)
	w.filesMu.Unlock()

	w.removeFromCache(absPath)
	return nil
}

// Start begins watching files for changes
func (w *Watcher) Start() error {
	select {
	case <-w.stopCh:
		return errors.New(ErrCodeWatcherStopped, "watcher has been stopped")
	default:
	}
	if !w.running.CompareAndSwap(false, true) {
		return errors.New(ErrCodeWatcherBusy, "watcher is already running")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher, waits for the polling loop to exit and closes the
// audit logger. A stopped watcher cannot be restarted.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return errors.New(ErrCodeWatcherStopped, "watcher is not running")
	}

	w.cancel()
	close(w.stopCh)
	<-w.stoppedCh

	return w.closeAudit()
}

// Close stops the watcher if it is running and releases its resources.
// Unlike Stop it is safe to call on a watcher that never started.
func (w *Watcher) Close() error {
	if w.running.Load() {
		return w.Stop()
	}
	return w.closeAudit()
}

func (w *Watcher) closeAudit() error {
	var err error
	w.closeOnce.Do(func() {
		w.hooksMu.Lock()
		hooks := w.closeHooks
		w.closeHooks = nil
		w.hooksMu.Unlock()
		for _, hook := range hooks {
			hook()
		}
		err = w.auditLogger.Close()
	})
	return err
}

// onClose registers fn to run once, before the audit logger is closed.
func (w *Watcher) onClose(fn func()) {
	w.hooksMu.Lock()
	w.closeHooks = append(w.closeHooks, fn)
	w.hooksMu.Unlock()
}

// IsRunning returns true if the watcher is currently running
func (w *Watcher) IsRunning() bool {
	return w.running.Load()
}

// WatchedFiles returns the number of currently watched files
func (w *Watcher) WatchedFiles() int {
	w.filesMu.RLock()
	defer w.filesMu.RUnlock()
	return len(w.files)
}

// getStat returns cached file statistics or performs os.Stat if the entry expired
func (w *Watcher) getStat(path string) (fileStat, error) {
	cacheMap := *w.statCache.Load()
	if cached, exists := cacheMap[path]; exists && !cached.isExpired(w.config.CacheTTL) {
		if !cached.exists {
			return cached, os.ErrNotExist
		}
		return cached, nil
	}

	info, err := os.Stat(path)
	stat := fileStat{
		cachedAt: timecache.CachedTimeNano(),
		exists:   err == nil,
	}
	if err == nil {
		stat.modTime = info.ModTime()
		stat.size = info.Size()
	}

	w.updateCache(path, stat)
	return stat, err
}

// updateCache replaces the cache map (copy-on-write)
func (w *Watcher) updateCache(path string, stat fileStat) {
	for {
		oldMapPtr := w.statCache.Load()
		oldMap := *oldMapPtr
		newMap := make(map[string]fileStat, len(oldMap)+1)
		for k, v := range oldMap {
			newMap[k] = v
		}
		newMap[path] = stat

		if w.statCache.CompareAndSwap(oldMapPtr, &newMap) {
			return
		}
	}
}

func (w *Watcher) removeFromCache(path string) {
	for {
		oldMapPtr := w.statCache.Load()
		oldMap := *oldMapPtr
		if _, exists := oldMap[path]; !exists {
			return
		}

		newMap := make(map[string]fileStat, len(oldMap)-1)
		for k, v := range oldMap {
			if k != path {
				newMap[k] = v
			}
		}

		if w.statCache.CompareAndSwap(oldMapPtr, &newMap) {
			return
		}
	}
}

// checkFile compares the current stat with the last known one and dispatches
// create, delete and modify events.
func (w *Watcher) checkFile(wf *watchedFile) {
	currentStat, err := w.getStat(wf.path)

	if err != nil {
		if os.IsNotExist(err) {
			if wf.lastStat.exists {
				wf.lastStat = fileStat{}
				w.dispatch(wf, ChangeEvent{Path: wf.path, IsDelete: true})
			}
			return
		}
		w.handleError(errors.Wrap(err, ErrCodeFileNotFound, "failed to stat file").
			WithContext("path", wf.path), wf.path)
		return
	}

	previous := wf.lastStat
	wf.lastStat = currentStat

	switch {
	case !previous.exists:
		w.dispatch(wf, ChangeEvent{Path: wf.path, ModTime: currentStat.modTime, Size: currentStat.size, IsCreate: true})
	case !currentStat.modTime.Equal(previous.modTime) || currentStat.size != previous.size:
		w.dispatch(wf, ChangeEvent{Path: wf.path, ModTime: currentStat.modTime, Size: currentStat.size, IsModify: true})
	}
}

// dispatch runs the callback of wf and recovers a panicking callback.
func (w *Watcher) dispatch(wf *watchedFile, event ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.auditLogger.LogFileWatch("callback_panic", event.Path)
			w.handleError(errors.New(ErrCodeInvalidConfig, fmt.Sprintf("watch callback panic: %v", r)).
				WithContext("path", event.Path), event.Path)
		}
	}()

	w.auditLogger.LogFileWatch(AuditEventFileChange, event.Path)
	wf.callback(event)
}

// handleError forwards err to the configured ErrorHandler, or logs it.
func (w *Watcher) handleError(err error, path string) {
	if w.config.ErrorHandler != nil {
		w.config.ErrorHandler(err, path)
		return
	}
	w.logger.Error("file watcher error", "path", path, "error", err)
}

// watchLoop is the main polling loop that checks all watched files
func (w *Watcher) watchLoop() {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollFiles()
		}
	}
}

// pollFiles checks all watched files, using a bounded worker pool for many files
func (w *Watcher) pollFiles() {
	w.filesMu.RLock()
	files := make([]*watchedFile, 0, len(w.files))
	for _, wf := range w.files {
		files = append(files, wf)
	}
	w.filesMu.RUnlock()

	if len(files) == 1 {
		w.checkFile(files[0])
		return
	}

	const maxConcurrency = 8
	fileCh := make(chan *watchedFile, len(files))
	for _, wf := range files {
		fileCh <- wf
	}
	close(fileCh)

	workers := maxConcurrency
	if len(files) < workers {
		workers = len(files)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for wf := range fileCh {
				w.checkFile(wf)
			}
		}()
	}
	wg.Wait()
}

// ClearCache drops every cached stat result, forcing fresh os.Stat() calls
func (w *Watcher) ClearCache() {
	emptyCache := make(map[string]fileStat)
	w.statCache.Store(&emptyCache)
}

// CacheStats describes the stat cache.
type CacheStats struct {
	Entries   int           // Number of cached entries
	OldestAge time.Duration // Age of oldest cache entry
	NewestAge time.Duration // Age of newest cache entry
}

// GetCacheStats returns current cache statistics
func (w *Watcher) GetCacheStats() CacheStats {
	cacheMap := *w.statCache.Load()
	if len(cacheMap) == 0 {
		return CacheStats{}
	}

	now := timecache.CachedTimeNano()
	var oldest, newest int64
	first := true
	for _, stat := range cacheMap {
		if first {
			oldest, newest = stat.cachedAt, stat.cachedAt
			first = false
			continue
		}
		if stat.cachedAt < oldest {
			oldest = stat.cachedAt
		}
		if stat.cachedAt > newest {
			newest = stat.cachedAt
		}
	}

	return CacheStats{
		Entries:   len(cacheMap),
		OldestAge: time.Duration(now - oldest),
		NewestAge: time.Duration(now - newest),
	}
}

// ValidateSecurePath rejects paths that try to escape their directory or reach
// sensitive system locations (CWE-22). The watcher applies it to every path it
// is given; callers reading user-provided paths should do the same.
func ValidateSecurePath(path string) error {
	if path == "" {
		return errors.New(ErrCodeInvalidConfig, "empty path not allowed")
	}

	for _, pattern := range []string{"..", "../", "..\\", "/..", "\\.."} {
		if strings.Contains(path, pattern) {
			return errors.New(ErrCodeInvalidConfig, "path contains dangerous traversal pattern: "+pattern)
		}
	}

	lowerPath := strings.ToLower(path)
	for _, pattern := range []string{
		"%2e%2e", "%252e%252e", "%2f", "%252f", "%5c", "%255c", "%00", "%2500",
	} {
		if strings.Contains(lowerPath, pattern) {
			return errors.New(ErrCodeInvalidConfig, "path contains URL-encoded traversal pattern: "+pattern)
		}
	}

	for _, sensitive := range []string{
		"/etc/passwd", "/etc/shadow", "/etc/hosts",
		"/proc/", "/sys/", "/dev/",
		"windows/system32", "program files", "system volume information",
		".ssh/", ".aws/", ".docker/",
	} {
		if strings.Contains(lowerPath, sensitive) {
			return errors.New(ErrCodeInvalidConfig, "access to system file/directory not allowed: "+sensitive)
		}
	}

	baseName := strings.ToUpper(filepath.Base(path))
	if dotIndex := strings.LastIndex(baseName, "."); dotIndex != -1 {
		baseName = baseName[:dotIndex]
	}
	switch baseName {
	case "CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9":
		return errors.New(ErrCodeInvalidConfig, "windows device name not allowed: "+baseName)
	}

	// Alternate data streams: name.ext:stream. Drive letters and URL-like
	// "scheme://" forms are allowed.
	if colonIndex := strings.Index(path, ":"); colonIndex > 1 && colonIndex < len(path)-1 {
		afterColon := path[colonIndex+1:]
		if !strings.HasPrefix(afterColon, "//") && !strings.HasPrefix(afterColon, "\\\\") &&
			!strings.HasPrefix(afterColon, ".") {
			return errors.New(ErrCodeInvalidConfig, "windows alternate data streams not allowed: "+path)
		}
	}

	if len(path) > 4096 {
		return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("path too long (max 4096 characters): %d", len(path)))
	}

	if separators := strings.Count(path, "/") + strings.Count(path, "\\"); separators > 50 {
		return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("path too complex (max 50 directory levels): %d", separators))
	}

	for _, char := range path {
		if char < 32 && char != 9 && char != 10 && char != 13 {
			return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("control character in path not allowed: %d", char))
		}
	}
	return nil
}
