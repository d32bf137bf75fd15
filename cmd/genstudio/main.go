/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"genstudio/internal/autosave"
	"genstudio/internal/backend"
	"genstudio/internal/config"
	"genstudio/internal/crash"
	applog "genstudio/internal/log"
	"genstudio/internal/service"
	"genstudio/internal/storage"
	"genstudio/internal/version"
)

func usage() {
	fmt.Println("GenStudio — persistence core CLI")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  genstudio version|-v|--version   Show version")
	fmt.Println("  genstudio init                    Bootstrap the configured identity")
	fmt.Println("  genstudio info                    Show identity, workspaces and snapshot slot")
	fmt.Println("  genstudio export <file>           Write a snapshot image to <file>")
	fmt.Println("  genstudio import <file>           Replace the working copy from <file>")
	fmt.Println("  genstudio reset                   Clear all data and remove the snapshot slot")
	fmt.Println("  genstudio push                    Upload the current snapshot to the hub")
}

// open wires config, store, services and the autosave scheduler the way the
// long-running host app would.
func open(ctx context.Context, cfg config.AppConfig) (*storage.Store, *service.IdentityService, *autosave.Scheduler, error) {
	slot := cfg.Storage.SnapshotPath
	if slot == "" {
		p, err := config.DefaultSnapshotPath()
		if err != nil {
			return nil, nil, nil, err
		}
		slot = p
	}
	st, err := storage.Open(ctx, storage.Options{Path: slot})
	if err != nil {
		return nil, nil, nil, err
	}
	sched := autosave.New(st, time.Duration(cfg.Storage.AutosaveIntervalMs)*time.Millisecond)
	st.SetOnChange(sched.Notify)
	sched.Start()
	ids := service.NewIdentityService(st)
	return st, ids, sched, nil
}

func main() {
	applog.Init(applog.FromEnv())
	l := applog.WithComponent("cli")
	var st *storage.Store
	defer func() { crash.Recover(st) }()

	cfg, token, err := config.Load()
	if err != nil {
		l.Error("config load failed", slog.Any("err", err))
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) > 1 {
		switch args[1] {
		case "version", "--version", "-v":
			fmt.Println("GenStudio — persistence core CLI")
			fmt.Println(version.String())
			return
		case "init":
			s, ids, sched, err := open(ctx, cfg)
			if err != nil {
				l.Error("open failed", slog.Any("err", err))
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			st = s
			id, err := ids.Bootstrap(ctx, cfg.Identity.ID, cfg.Identity.Name, cfg.Identity.Contact)
			if err != nil {
				l.Error("bootstrap failed", slog.Any("err", err))
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			sched.Close(ctx)
			_ = st.Close(ctx)
			fmt.Printf("Identity ready: %s (%s)\n", id.Name, id.ID)
			fmt.Println("Snapshot slot:", st.Path())
			return
		case "info":
			s, ids, sched, err := open(ctx, cfg)
			if err != nil {
				l.Error("open failed", slog.Any("err", err))
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			st = s
			defer func() { sched.Close(ctx); _ = st.Close(ctx) }()
			id, err := ids.Bootstrap(ctx, cfg.Identity.ID, cfg.Identity.Name, cfg.Identity.Contact)
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			ws := service.NewWorkspaceService(st, ids)
			list, err := ws.List(ctx)
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			fmt.Printf("Identity: %s (%s)\n", id.Name, id.ID)
			fmt.Printf("Workspaces: %d\n", len(list))
			for _, w := range list {
				stats, err := ws.Stats(ctx, w.ID)
				if err != nil {
					fmt.Println("Error:", err)
					os.Exit(1)
				}
				fmt.Printf("  %s: %d units, %d artifacts\n", w.Name, stats.UnitCount, stats.ArtifactCount)
			}
			fmt.Println("Snapshot slot:", st.Path())
			if st.Degraded() {
				fmt.Println("WARNING: running memory-only, last flush failed")
			}
			return
		case "export":
			if len(args) < 3 {
				fmt.Println("export requires <file>")
				usage()
				os.Exit(2)
			}
			s, _, sched, err := open(ctx, cfg)
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			st = s
			defer func() { sched.Close(ctx); _ = st.Close(ctx) }()
			blob, err := st.Export(ctx)
			if err != nil {
				l.Error("export failed", slog.Any("err", err))
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			dest, _ := filepath.Abs(args[2])
			if err := os.WriteFile(dest, blob, 0o644); err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			fmt.Printf("Exported %d bytes to %s\n", len(blob), dest)
			return
		case "import":
			if len(args) < 3 {
				fmt.Println("import requires <file>")
				usage()
				os.Exit(2)
			}
			blob, err := os.ReadFile(args[2])
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			s, _, sched, err := open(ctx, cfg)
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			st = s
			defer func() { sched.Close(ctx); _ = st.Close(ctx) }()
			if err := st.Import(ctx, blob); err != nil {
				l.Error("import failed", slog.Any("err", err))
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			fmt.Println("Imported snapshot; working copy replaced.")
			return
		case "reset":
			s, _, sched, err := open(ctx, cfg)
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			st = s
			defer func() { sched.Close(ctx); _ = st.Close(ctx) }()
			if err := st.Reset(ctx); err != nil {
				l.Error("reset failed", slog.Any("err", err))
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			fmt.Println("All data cleared; snapshot slot removed.")
			return
		case "push":
			s, _, sched, err := open(ctx, cfg)
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			st = s
			defer func() { sched.Close(ctx); _ = st.Close(ctx) }()
			blob, err := st.Export(ctx)
			if err != nil {
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			client := backend.NewClient(cfg.Hub.BaseURL, token)
			pushCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Hub.TimeoutMs)*time.Millisecond)
			defer cancel()
			res, err := client.Push(pushCtx, cfg.Identity.ID, cfg.Identity.ID, blob)
			if err != nil {
				l.Error("push failed", slog.Any("err", err))
				fmt.Println("Error:", err)
				os.Exit(1)
			}
			fmt.Printf("Pushed snapshot version %d (%s)\n", res.Version, res.CreatedAt)
			return
		}
	}

	usage()
}
