package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is what ffmpeg will do after a progress interval.
type Status int

const (
	// StatusContinue means ffmpeg will keep emitting progress events.
	StatusContinue Status = iota
	// StatusEnd means ffmpeg has finished; the stream closes after
	// the Report carrying it.
	StatusEnd
)

func (s Status) String() string {
	if s == StatusEnd {
		return "end"
	}
	return "continue"
}

// Progress is one reporting interval of ffmpeg's -progress output.
//
// Field names correspond to the keys ffmpeg writes. Every field is a
// pointer because ffmpeg documents none of this and reports N/A for
// fields it cannot compute; nil means the field was absent or N/A in
// the most recent interval. bitrate is ignored: its format is not
// well-defined by ffmpeg.
type Progress struct {
	// Frame is the frame ffmpeg is on.
	Frame *uint64
	// FPS is the framerate ffmpeg is processing at.
	FPS *float64
	// TotalSize is how much data ffmpeg has output so far, in bytes.
	TotalSize *uint64
	// OutTime is how far into the output ffmpeg has processed.
	OutTime *time.Duration
	// DupFrames is how many frames were duplicated.
	DupFrames *uint64
	// DropFrames is how many frames were dropped.
	DropFrames *uint64
	// Speed is the processing rate relative to 1x playback.
	Speed *float64
	// Status is what ffmpeg will do next.
	Status Status
}

// KeyValueError reports a progress line that was not a key=value pair.
type KeyValueError struct {
	Line string
}

func (e *KeyValueError) Error() string {
	return fmt.Sprintf("invalid key=value pair: %q", e.Line)
}

// StatusError reports an unrecognized value for the progress key.
type StatusError struct {
	Value string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unknown progress status: %q", e.Value)
}

// FieldError reports a recognized field whose value was neither N/A
// nor parseable for its type.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("parse %s value %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// notAvailable is the token ffmpeg emits for fields it cannot compute.
const notAvailable = "N/A"

// parseLine splits a raw progress line into key and value on the first
// '=' (values may themselves contain '='). The key is right-trimmed and
// the value left-trimmed; ffmpeg pads some values with leading spaces.
func parseLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return "", "", false
	}
	return strings.TrimRight(key, " \t"), strings.TrimLeft(value, " \t"), true
}

// apply updates the field named by key. Unknown keys are ignored so
// newer ffmpeg fields do not break the stream. The progress key itself
// is interval bookkeeping and is handled by the pump, not here.
func (p *Progress) apply(key, value string) error {
	switch key {
	case "frame":
		return setUint(&p.Frame, key, value)
	case "fps":
		return setFloat(&p.FPS, key, value)
	case "total_size":
		return setUint(&p.TotalSize, key, value)
	case "out_time_us":
		return setDuration(&p.OutTime, key, value)
	case "dup_frames":
		return setUint(&p.DupFrames, key, value)
	case "drop_frames":
		return setUint(&p.DropFrames, key, value)
	case "speed":
		return setSpeed(&p.Speed, key, value)
	}
	return nil
}

func setUint(dst **uint64, field, value string) error {
	if value == notAvailable {
		*dst = nil
		return nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return &FieldError{Field: field, Value: value, Err: err}
	}
	*dst = &n
	return nil
}

func setFloat(dst **float64, field, value string) error {
	if value == notAvailable {
		*dst = nil
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return &FieldError{Field: field, Value: value, Err: err}
	}
	*dst = &f
	return nil
}

func setDuration(dst **time.Duration, field, value string) error {
	if value == notAvailable {
		*dst = nil
		return nil
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return &FieldError{Field: field, Value: value, Err: err}
	}
	d := time.Duration(us) * time.Microsecond
	*dst = &d
	return nil
}

// setSpeed strips the trailing unit character ("1.02x") before the
// float parse.
func setSpeed(dst **float64, field, value string) error {
	if value == notAvailable {
		*dst = nil
		return nil
	}
	num := value
	if n := len(num); n > 0 && (num[n-1] < '0' || num[n-1] > '9') {
		num = num[:n-1]
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return &FieldError{Field: field, Value: num, Err: err}
	}
	*dst = &f
	return nil
}
