package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"compose-deploy/pkg/utils"
)

// RunMigrations mirrors the local migrations directory to the host, waits
// for the database service and pipes every *.sql file into psql in name
// order. A failing file is counted and the next one is still applied.
// Files are applied on every deploy; they must be safe to re-run.
func (s *DeployService) RunMigrations(ctx context.Context) error {
	m := s.cfg.Migrations
	if info, err := os.Stat(m.LocalDir); err != nil || !info.IsDir() {
		s.console.Warn("migrations directory %s not found, skipping", m.LocalDir)
		return nil
	}

	files, err := migrationFiles(m.LocalDir)
	if err != nil {
		return err
	}

	remoteDir := s.cfg.RemoteMigrationsPath()
	if err := s.UploadDirectory(ctx, m.LocalDir, remoteDir); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.console.Warn("%v", err)
	}

	if err := s.waitForDatabase(ctx); err != nil {
		return err
	}

	if len(files) == 0 {
		s.console.Info("no migration files in %s", m.LocalDir)
		return nil
	}

	progress := s.console.NewProgress(len(files), "migrations")
	failed := 0
	for _, name := range files {
		cmd := s.compose(fmt.Sprintf("exec -T %s psql -v ON_ERROR_STOP=1 -U %s -d %s < %s",
			utils.ShellQuote(m.DBService),
			utils.ShellQuote(m.DBUser),
			utils.ShellQuote(m.DBName),
			utils.ShellQuote(path.Join(remoteDir, name))))

		result, err := s.exec(ctx, remoteCommand{command: cmd, mode: BestEffort})
		if err != nil {
			progress.Finish()
			return err
		}
		if result.Outcome != Succeeded {
			failed++
			s.logger.Warnw("migration failed", "file", name, "exit_code", result.ExitCode)
		}
		progress.Add()
	}
	progress.Finish()

	if failed > 0 {
		s.console.Warn("%d of %d migrations failed", failed, len(files))
		return nil
	}
	s.console.Success("%d migrations applied", len(files))
	return nil
}

// migrationFiles lists the *.sql files directly inside dir, sorted by name.
func migrationFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations in %s: %w", dir, err)
	}
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil && !info.IsDir() {
			names = append(names, filepath.Base(match))
		}
	}
	sort.Strings(names)
	return names, nil
}

// waitForDatabase polls pg_isready inside the database container until it
// succeeds or the readiness timeout passes. The deadline also bounds each
// check, so a hung exec cannot stall the deploy.
func (s *DeployService) waitForDatabase(ctx context.Context) error {
	m := s.cfg.Migrations
	check := s.compose(fmt.Sprintf("exec -T %s pg_isready -U %s",
		utils.ShellQuote(m.DBService), utils.ShellQuote(m.DBUser)))

	s.console.Info("waiting for %s (up to %s)", m.DBService, m.ReadyTimeout)
	waitCtx, cancel := context.WithTimeout(ctx, m.ReadyTimeout)
	defer cancel()
	attempts := 0

	notReady := func() error {
		return fmt.Errorf("%w: %s after %s (%d attempts)", ErrDatabaseNotReady, m.DBService, m.ReadyTimeout, attempts)
	}

	for {
		attempts++
		result, err := s.exec(waitCtx, remoteCommand{command: check, mode: BestEffort, quiet: true})
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return notReady()
			}
			return err
		}
		if result.Outcome == Succeeded {
			s.console.Success("%s is ready", m.DBService)
			return nil
		}

		timer := time.NewTimer(m.ReadyInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return notReady()
		case <-timer.C:
		}
	}
}
