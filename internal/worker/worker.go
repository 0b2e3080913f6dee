package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/facelabel/internal/face"
	"github.com/andresmejia3/facelabel/internal/log"
	"github.com/andresmejia3/facelabel/internal/types"
	"github.com/andresmejia3/facelabel/internal/utils" // Using the SafeCommand wrapper
)

// ErrEngine wraps failures reported by the engine itself (as opposed to pipe errors).
var ErrEngine = errors.New("python worker error")

const (
	opDetect byte = 'D'
	opEmbed  byte = 'E'

	statusOK    byte = 0
	statusError byte = 1

	// maxMessage guards against reading garbage lengths after a crash
	maxMessage = 256 * 1024 * 1024

	// minFaceRecord is the smallest encoded face: box, probability and a rank-1 empty tensor
	minFaceRecord = 4*4 + 4 + 4 + 4
)

// Config controls how an engine process is launched.
type Config struct {
	Python      string
	Script      string
	ReadTimeout time.Duration // 0 disables the deadline
	Debug       bool
}

// PythonWorker talks to one long-lived engine process that hosts the
// detector and embedding networks. It is not safe for concurrent use;
// give each goroutine its own worker.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

var (
	_ face.Detector = (*PythonWorker)(nil)
	_ face.Embedder = (*PythonWorker)(nil)
)

// NewPythonWorker starts the engine process. The context kills the process if cancelled.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	args := []string{"-u", cfg.Script}
	if cfg.Debug {
		args = append(args, "--debug")
	}
	py := utils.NewSafeCommandContext(ctx, cfg.Python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	log.Debug(log.Fields{"worker": id, "pid": py.Process.Pid, "script": cfg.Script}, "engine started")

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Detect sends the image to the engine and returns its boxes, probabilities and
// aligned crops. A nil output means the engine found no face.
func (w *PythonWorker) Detect(ctx context.Context, img image.Image) (*face.DetectorOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	body.WriteByte(opDetect)
	if err := png.Encode(&body, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	resp, err := w.roundTrip(body.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeDetections(resp)
}

// Embed sends a batch of crops and returns one embedding per crop.
func (w *PythonWorker) Embed(ctx context.Context, batch []types.Tensor) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stacked, err := stack(batch)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	body.WriteByte(opEmbed)
	writeTensor(&body, stacked)

	resp, err := w.roundTrip(body.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeEmbeddings(resp, len(batch))
}

// roundTrip writes one framed request and reads one framed response, then
// strips the status byte.
func (w *PythonWorker) roundTrip(payload []byte) (*bytes.Reader, error) {
	resp, err := w.Communicate(payload)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.New("empty response from engine")
	}

	r := bytes.NewReader(resp[1:])
	switch resp[0] {
	case statusOK:
		return r, nil
	case statusError:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: unreadable error message", ErrEngine)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("%w: truncated error message", ErrEngine)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, msg)
	default:
		return nil, fmt.Errorf("unknown engine status %d", resp[0])
	}
}

// Communicate implements the framing. Protocol: [Length][Data] in both directions.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// os.Pipe files support deadlines; in-memory pipes used in tests do not
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		defer d.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("engine did not answer within %s: %w", w.ReadTimeout, err)
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxMessage {
		return nil, fmt.Errorf("engine response too large (%d bytes)", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Close shuts the engine down by closing its stdin and waits for it to exit.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
		log.Debug(log.Fields{"worker": w.ID}, "engine stopped")
	}
}

// --- Wire format helpers ---

func decodeDetections(r *bytes.Reader) (*face.DetectorOutput, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	if int64(count) > int64(r.Len()/minFaceRecord) {
		return nil, fmt.Errorf("face count %d exceeds payload", count)
	}

	out := &face.DetectorOutput{
		Boxes: make([]types.Box, 0, count),
		Probs: make([]float64, 0, count),
		Crops: make([]types.Tensor, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		var box [4]float32
		var prob float32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: failed to read box: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &prob); err != nil {
			return nil, fmt.Errorf("face %d: failed to read probability: %w", i, err)
		}
		crop, err := readTensor(r)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		out.Boxes = append(out.Boxes, types.Box{float64(box[0]), float64(box[1]), float64(box[2]), float64(box[3])})
		out.Probs = append(out.Probs, float64(prob))
		out.Crops = append(out.Crops, crop)
	}
	return out, nil
}

func decodeEmbeddings(r *bytes.Reader, want int) ([][]float64, error) {
	var batch, dim uint32
	if err := binary.Read(r, binary.BigEndian, &batch); err != nil {
		return nil, fmt.Errorf("failed to read batch size: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
		return nil, fmt.Errorf("failed to read embedding size: %w", err)
	}
	if int(batch) != want {
		return nil, fmt.Errorf("engine returned %d embeddings for %d crops", batch, want)
	}
	if batch > 0 && int64(dim) > int64(r.Len()/4)/int64(batch) {
		return nil, fmt.Errorf("embedding shape [%d %d] exceeds payload", batch, dim)
	}

	out := make([][]float64, batch)
	raw := make([]float32, dim)
	for i := range out {
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		vec := make([]float64, dim)
		for j, v := range raw {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

// stack prepends a batch dimension: N crops of shape S become one [N, S...] tensor.
func stack(batch []types.Tensor) (types.Tensor, error) {
	if len(batch) == 0 {
		return types.Tensor{}, errors.New("empty batch")
	}
	shape := batch[0].Shape
	data := make([]float32, 0, len(batch)*batch[0].Len())
	for i, t := range batch {
		if !sameShape(t.Shape, shape) {
			return types.Tensor{}, fmt.Errorf("crop %d has shape %v, want %v", i, t.Shape, shape)
		}
		if len(t.Data) != t.Len() {
			return types.Tensor{}, fmt.Errorf("crop %d has %d values for shape %v", i, len(t.Data), t.Shape)
		}
		if !finite(t.Data) {
			return types.Tensor{}, fmt.Errorf("crop %d contains NaN or Inf", i)
		}
		data = append(data, t.Data...)
	}
	return types.Tensor{Shape: append([]int{len(batch)}, shape...), Data: data}, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// writeTensor: [u32 ndim][u32 dims...][f32 data...]
func writeTensor(buf *bytes.Buffer, t types.Tensor) {
	binary.Write(buf, binary.BigEndian, uint32(len(t.Shape)))
	for _, d := range t.Shape {
		binary.Write(buf, binary.BigEndian, uint32(d))
	}
	binary.Write(buf, binary.BigEndian, t.Data)
}

func readTensor(r *bytes.Reader) (types.Tensor, error) {
	var ndim uint32
	if err := binary.Read(r, binary.BigEndian, &ndim); err != nil {
		return types.Tensor{}, fmt.Errorf("failed to read tensor rank: %w", err)
	}
	if ndim == 0 || ndim > 8 {
		return types.Tensor{}, fmt.Errorf("unsupported tensor rank %d", ndim)
	}
	dims := make([]uint32, ndim)
	if err := binary.Read(r, binary.BigEndian, dims); err != nil {
		return types.Tensor{}, fmt.Errorf("failed to read tensor shape: %w", err)
	}

	t := types.Tensor{Shape: make([]int, ndim)}
	limit := r.Len() / 4
	n := 1
	for i, d := range dims {
		t.Shape[i] = int(d)
		// n*d <= limit, checked without multiplying
		if d != 0 && n > limit/int(d) {
			return types.Tensor{}, fmt.Errorf("tensor shape %v exceeds payload", dims)
		}
		n *= int(d)
	}
	t.Data = make([]float32, n)
	if err := binary.Read(r, binary.BigEndian, t.Data); err != nil {
		return types.Tensor{}, fmt.Errorf("failed to read tensor data: %w", err)
	}
	return t, nil
}

// finite reports whether every value is a real number.
func finite(data []float32) bool {
	for _, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}
