// Package extractor turns recorded video into a stream of camera frames.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FrameDir returns the directory ExtractFrames writes a video's frames into
func FrameDir(videoPath, outputDir string) string {
	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return filepath.Join(outputDir, videoName)
}

// ExtractFrames extracts frames from a video file at the given rate with ffmpeg. Extraction
// is skipped when the frame directory already holds images.
func ExtractFrames(ctx context.Context, logger *slog.Logger, videoPath, outputDir string, fps int) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fps <= 0 {
		return "", fmt.Errorf("invalid frame rate %d", fps)
	}

	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return "", fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}

	frameDirPath := FrameDir(videoPath, outputDir)

	if names, err := listFrames(frameDirPath); err == nil && len(names) > 0 {
		logger.Info("frames already extracted, skipping", "dir", frameDirPath, "frames", len(names))
		return frameDirPath, nil
	}

	if err := os.MkdirAll(frameDirPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create frame directory '%s': %w", frameDirPath, err)
	}

	logger.Info("extracting frames", "video", videoPath, "dir", frameDirPath, "fps", fps)

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%d", fps),
		filepath.Join(frameDirPath, "frame_%05d.jpg"),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	logger.Info("extracted frames", "dir", frameDirPath)
	return frameDirPath, nil
}
