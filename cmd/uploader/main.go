package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"reel-pipeline/internal/blob"
	"reel-pipeline/internal/config"
	"reel-pipeline/internal/store"
	"reel-pipeline/internal/submit"
)

func main() {
	var (
		file      = flag.String("file", "", "path of the video to upload")
		owner     = flag.String("owner", "", "owner id of the submission")
		pushToken = flag.String("push-token", "", "device push token; empty disables notifications")
		list      = flag.Bool("list", false, "list the owner's uploads, newest first")
	)
	flag.Parse()

	if *owner == "" {
		log.Fatalf("-owner is required")
	}

	cfg := config.Load()

	// SIGINT cancels an in-flight transfer; the submitter guarantees no
	// tracking record is left behind in that case.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if *list {
		listUploads(ctx, st, *owner)
		return
	}
	if *file == "" {
		log.Fatalf("-file is required")
	}

	objects, err := blob.NewS3Store(ctx, cfg)
	if err != nil {
		log.Fatalf("init object store: %v", err)
	}

	sub := submit.New(objects, st, submit.StaticToken(*pushToken), cfg.MaxUploadBytes)
	sub.OnPhase = func(p submit.Phase) {
		log.Printf("phase: %s", p)
	}
	sub.OnProgress = func(pct int) {
		log.Printf("progress: %d%%", pct)
	}

	sub.OnPhase(submit.PhasePicking)
	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open %s: %v", *file, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Fatalf("stat %s: %v", *file, err)
	}

	src := submit.Source{
		Name:   filepath.Base(*file),
		Size:   info.Size(),
		MIME:   mimeFor(*file),
		Reader: f,
	}

	rec, err := sub.Submit(ctx, src, *owner)
	if err != nil {
		if errors.Is(err, submit.ErrCancelled) {
			log.Printf("upload cancelled, no record created")
			return
		}
		// Retrying re-runs the whole submission with a fresh id; partial
		// transfers are never resumed.
		log.Fatalf("upload failed: %v", err)
	}

	log.Printf("submitted %s (%s, %s) as %s", rec.OriginalFilename, formatBytes(rec.SizeBytes), rec.Status, rec.ID)
}

func listUploads(ctx context.Context, st *store.Store, owner string) {
	uploads, err := st.ListUploads(ctx, owner)
	if err != nil {
		log.Fatalf("list uploads: %v", err)
	}
	if len(uploads) == 0 {
		fmt.Println("no uploads")
		return
	}
	for _, u := range uploads {
		fmt.Printf("%s  %-10s  %-30s  %8s  %s\n",
			u.ID, u.Status, u.OriginalFilename, formatBytes(u.SizeBytes), u.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}

func formatBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/(1024*1024*1024))
	}
}
