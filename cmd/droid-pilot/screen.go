package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	imagepkg "droid-pilot/internal/image"
	"droid-pilot/internal/screen"
)

func newScreenCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Print the element listing of the current screen and save an annotated capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return a.screen(ctx, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "screen.png", "where to write the annotated PNG (empty to skip)")
	return cmd
}

func (a *app) screen(ctx context.Context, out string) error {
	dev, err := openDevice(a.cfg.Device, a.logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	var (
		root  *screen.Node
		frame image.Image
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		root, err = dev.Root(gctx)
		return err
	})
	if out != "" {
		g.Go(func() error {
			img, err := dev.CaptureFrame(gctx)
			frame = img
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	snap := screen.NewExtractor(a.cfg.Extractor, a.logger).Extract(root)
	fmt.Println(snap.Listing)
	if snap.Truncated {
		fmt.Println("(listing truncated)")
	}
	if out == "" || frame == nil {
		return nil
	}

	elements := snap.Elements()
	boxes := make([]imagepkg.Box, 0, len(elements))
	for _, el := range elements {
		boxes = append(boxes, imagepkg.Box{ID: el.ID, Bounds: el.Bounds})
	}
	w, h := dev.ScreenSize()
	annotated, err := imagepkg.Annotate(frame, boxes, w, h)
	if err != nil {
		return err
	}
	data, err := imagepkg.EncodeToPNG(annotated)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	a.logger.Info("Annotated screen written", zap.String("path", out), zap.Int("elements", len(elements)))
	return nil
}
