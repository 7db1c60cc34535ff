// Package runner executes transcode tasks with the ffmpeg package,
// staging inputs, enforcing resource throttles, and mirroring the live
// progress stream into the task record.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ffprogress/config"
	"ffprogress/ffmpeg"
	"ffprogress/task"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type Runner struct {
	cfg     *config.Config
	tempDir string
}

func New(cfg *config.Config) (*Runner, error) {
	// Ensure ffmpeg binary is executable
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}

	// Create and set a temporary directory for all I/O
	tempDir, err := os.MkdirTemp("", "ffprogress_")
	if err != nil {
		return nil, fmt.Errorf("could not create temp directory: %w", err)
	}
	log.Printf("Using temporary directory: %s", tempDir)
	cfg.TempDir = tempDir

	return &Runner{
		cfg:     cfg,
		tempDir: tempDir,
	}, nil
}

// Run executes an ffmpeg job for a given task, streaming its progress
// into the task record. It returns ffmpeg's stderr log and an error.
func (r *Runner) Run(ctx context.Context, t *task.Task) (string, error) {
	// 1. Check system resources before starting
	if err := r.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	// 2. Prepare input file
	inputPath, cleanupInput, err := r.prepareInput(ctx, t.InputMedia, t.ID)
	if err != nil {
		return "", fmt.Errorf("failed to prepare input: %w", err)
	}
	defer cleanupInput()
	t.SetInputPath(inputPath)

	// 3. Parse the task's output options into typed parameters
	args, err := ffmpeg.SplitCommand(t.OutputArgs)
	if err != nil {
		return "", err
	}
	params, err := ffmpeg.ParseParameters(args)
	if err != nil {
		return "", err
	}

	// 4. Prepare output path
	outputFilename := fmt.Sprintf("%s_output.%s", t.ID, t.OutputExt)
	outputPath := filepath.Join(r.tempDir, outputFilename)
	t.SetOutputPath(outputPath)

	// 5. Build and start the job
	output := ffmpeg.NewFile(outputPath)
	for _, p := range params {
		output = output.WithOption(p)
	}

	var stderr bytes.Buffer
	builder := ffmpeg.New().
		Binary(r.cfg.FFBin).
		Stderr(&stderr).
		ConnectTimeout(r.cfg.FFConnectTimeout).
		Option(ffmpeg.Flag("nostdin")).
		Option(ffmpeg.Flag("y")).
		Input(ffmpeg.NewFile(inputPath)).
		Output(output)

	log.Printf("Executing for task %s: %s %s", t.ID, r.cfg.FFBin, strings.Join(builder.Args(), " "))

	job, err := builder.Start(ctx)
	if err != nil {
		os.Remove(outputPath)
		t.SetOutputPath("")
		return "", fmt.Errorf("ffmpeg start failed: %w", err)
	}

	// 6. Mirror the progress stream into the task until it closes
	var streamErr error
	for report := range job.Progress {
		if report.Err != nil {
			streamErr = report.Err
			continue // the stream closes right after an error item
		}
		t.UpdateProgress(snapshot(report.Progress))
	}

	waitErr := job.Cmd.Wait()
	outputLog := stderr.String()

	if waitErr != nil {
		// If the command failed, clean up the (likely empty or partial) output file.
		os.Remove(outputPath)
		t.SetOutputPath("")
		return outputLog, fmt.Errorf("ffmpeg execution failed: %w", waitErr)
	}
	if streamErr != nil {
		return outputLog, fmt.Errorf("progress stream: %w", streamErr)
	}

	return outputLog, nil
}

// snapshot flattens one progress interval into the task-facing form.
func snapshot(p ffmpeg.Progress) task.ProgressSnapshot {
	var s task.ProgressSnapshot
	if p.Frame != nil {
		s.Frame = *p.Frame
	}
	if p.FPS != nil {
		s.FPS = *p.FPS
	}
	if p.TotalSize != nil {
		s.TotalSize = *p.TotalSize
	}
	if p.OutTime != nil {
		s.OutTimeSec = p.OutTime.Seconds()
	}
	if p.DupFrames != nil {
		s.DupFrames = *p.DupFrames
	}
	if p.DropFrames != nil {
		s.DropFrames = *p.DropFrames
	}
	if p.Speed != nil {
		s.Speed = *p.Speed
	}
	s.Done = p.Status == ffmpeg.StatusEnd
	return s
}

// prepareInput downloads or copies the input media to a local temporary file.
// It returns the path to the temp file, a cleanup function, and an error.
func (r *Runner) prepareInput(ctx context.Context, inputMedia string, taskID string) (string, func(), error) {
	// Create a unique temporary file for the input
	tmpFile, err := os.CreateTemp(r.tempDir, fmt.Sprintf("%s_input_*", taskID))
	if err != nil {
		return "", func() {}, err
	}

	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}

	if strings.HasPrefix(inputMedia, "http://") || strings.HasPrefix(inputMedia, "https://") {
		// Input is a URL
		req, _ := http.NewRequestWithContext(ctx, "GET", inputMedia, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", cleanup, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", cleanup, fmt.Errorf("failed to download file, status: %s", resp.Status)
		}

		// Use a LimitedReader to enforce max input size
		limitedReader := &io.LimitedReader{R: resp.Body, N: r.cfg.MaxInputSize + 1}
		written, err := io.Copy(tmpFile, limitedReader)
		if err != nil {
			return "", cleanup, fmt.Errorf("failed to write downloaded file: %w", err)
		}
		if written > r.cfg.MaxInputSize {
			return "", cleanup, fmt.Errorf("input file size exceeds limit of %d bytes", r.cfg.MaxInputSize)
		}
	} else {
		// Assume input is a local file path
		srcFile, err := os.Open(inputMedia)
		if err != nil {
			return "", cleanup, fmt.Errorf("could not open local input file: %w", err)
		}
		defer srcFile.Close()

		// Check file size
		info, err := srcFile.Stat()
		if err != nil {
			return "", cleanup, err
		}
		if info.Size() > r.cfg.MaxInputSize {
			return "", cleanup, fmt.Errorf("input file size %d exceeds limit of %d bytes", info.Size(), r.cfg.MaxInputSize)
		}

		if _, err := io.Copy(tmpFile, srcFile); err != nil {
			return "", cleanup, fmt.Errorf("failed to copy local file: %w", err)
		}
	}
	// Need to close here to ensure data is flushed before ffmpeg reads it
	if err := tmpFile.Close(); err != nil {
		return "", cleanup, err
	}
	return tmpFile.Name(), cleanup, nil
}

// checkResources verifies that the system has enough free resources to start a new job.
func (r *Runner) checkResources() error {
	// CPU
	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		log.Printf("Warning: could not get CPU usage: %v", err)
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	// Memory
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("Warning: could not get memory usage: %v", err)
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	// Disk
	d, err := disk.Usage(r.tempDir)
	if err != nil {
		log.Printf("Warning: could not get disk usage for %s: %v", r.tempDir, err)
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
	}
	return nil
}
