// Package asr requests transcription with speaker diarization for an audio
// file.
package asr

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

// Defaults for transcription requests.
const (
	DefaultModel    = "large-v2"
	DefaultLanguage = "en"
	MinSpeakers     = 1
	MaxSpeakers     = 10

	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Transcriber turns an audio file into a raw, diarized transcription.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*transcript.RawTranscription, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audioPath string) (*transcript.RawTranscription, error)

// Transcribe implements Transcriber.
func (f TranscriberFunc) Transcribe(ctx context.Context, audioPath string) (*transcript.RawTranscription, error) {
	return f(ctx, audioPath)
}

// DetectDevice returns DeviceCUDA when an NVIDIA GPU is visible and
// DeviceCPU otherwise.
func DetectDevice() string {
	return detectDevice(os.Stat, exec.LookPath)
}

func detectDevice(stat func(string) (os.FileInfo, error), lookPath func(string) (string, error)) string {
	if _, err := stat("/dev/nvidia0"); err == nil {
		return DeviceCUDA
	}
	if _, err := lookPath("nvidia-smi"); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}

// ResolveDevice validates an explicit device, detecting one when empty.
func ResolveDevice(device string) (string, error) {
	switch device {
	case "":
		return DetectDevice(), nil
	case DeviceCUDA, DeviceCPU:
		return device, nil
	default:
		return "", fmt.Errorf("%w: device must be %q or %q, got %q", mmerrors.ErrValidation, DeviceCUDA, DeviceCPU, device)
	}
}

func checkSource(audioPath string) error {
	info, err := os.Stat(audioPath)
	if err != nil {
		return fmt.Errorf("%w: %s", mmerrors.ErrSourceNotFound, audioPath)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", mmerrors.ErrSourceNotFound, audioPath)
	}
	return nil
}
