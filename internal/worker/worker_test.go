package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"math"
	"testing"

	"github.com/andresmejia3/facelabel/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// newMockWorker returns a worker whose data pipe already holds one framed
// response with the given payload.
func newMockWorker(payload []byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(payload)))
	dataPipeMock.Write(payload)

	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock
}

func TestDetect(t *testing.T) {
	// Protocol: [Status:0] [NumFaces:1] [Box] [Prob] [Tensor]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(1))
	binary.Write(payload, binary.BigEndian, [4]float32{10, 12, 50, 64})
	binary.Write(payload, binary.BigEndian, float32(0.97))
	writeTensor(payload, types.Tensor{Shape: []int{3, 2, 2}, Data: make([]float32, 12)})

	w, stdinMock := newMockWorker(payload.Bytes())

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	out, err := w.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Verify Go sent a framed PNG TO Python
	sent := stdinMock.Bytes()
	n := binary.BigEndian.Uint32(sent[:4])
	if int(n) != len(sent)-4 {
		t.Errorf("Length header says %d, body is %d bytes", n, len(sent)-4)
	}
	if sent[4] != opDetect {
		t.Errorf("Expected op %q, got %q", opDetect, sent[4])
	}
	if _, err := png.Decode(bytes.NewReader(sent[5:])); err != nil {
		t.Errorf("Request body is not a PNG: %v", err)
	}

	// Verify Go read the correct data FROM Python
	if out == nil || len(out.Boxes) != 1 {
		t.Fatalf("Expected 1 face, got %+v", out)
	}
	if out.Boxes[0] != (types.Box{10, 12, 50, 64}) {
		t.Errorf("Unexpected box %v", out.Boxes[0])
	}
	// Use epsilon for float comparison
	if math.Abs(out.Probs[0]-0.97) > 1e-6 {
		t.Errorf("Expected probability approx 0.97, got %f", out.Probs[0])
	}
	if got := out.Crops[0].Shape; len(got) != 3 || got[0] != 3 || len(out.Crops[0].Data) != 12 {
		t.Errorf("Unexpected crop %v / %d values", got, len(out.Crops[0].Data))
	}
}

func TestDetect_NoFaces(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(0))

	w, _ := newMockWorker(payload.Bytes())
	out, err := w.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if out != nil {
		t.Errorf("Expected nil output for no faces, got %+v", out)
	}
}

func TestDetect_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w, _ := newMockWorker(payload.Bytes())
	_, err := w.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrEngine) {
		t.Errorf("Expected ErrEngine, got %v", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestDetect_TruncatedResponse(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(2)) // Claims two faces, sends none

	w, _ := newMockWorker(payload.Bytes())
	if _, err := w.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2))); err == nil {
		t.Fatal("Expected error for truncated response")
	}
}

func TestDetect_CancelledContext(t *testing.T) {
	w, stdinMock := newMockWorker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Detect(ctx, image.NewGray(image.Rect(0, 0, 2, 2))); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if stdinMock.Len() != 0 {
		t.Error("Nothing should be sent once the context is done")
	}
}

func TestEmbed(t *testing.T) {
	// Protocol: [Status:0] [Batch] [Dim] [Vec...]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(2))
	binary.Write(payload, binary.BigEndian, uint32(3))
	binary.Write(payload, binary.BigEndian, []float32{0.5, 0, -0.5, 1, 2, 3})

	w, stdinMock := newMockWorker(payload.Bytes())

	crops := []types.Tensor{
		{Shape: []int{2}, Data: []float32{1, 2}},
		{Shape: []int{2}, Data: []float32{3, 4}},
	}
	embs, err := w.Embed(context.Background(), crops)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	// Verify the batch was stacked into a single [2, 2] tensor
	sent := bytes.NewReader(stdinMock.Bytes()[4:])
	op, _ := sent.ReadByte()
	if op != opEmbed {
		t.Errorf("Expected op %q, got %q", opEmbed, op)
	}
	stacked, err := readTensor(sent)
	if err != nil {
		t.Fatalf("Request tensor unreadable: %v", err)
	}
	if len(stacked.Shape) != 2 || stacked.Shape[0] != 2 || stacked.Shape[1] != 2 {
		t.Errorf("Expected shape [2 2], got %v", stacked.Shape)
	}
	if stacked.Data[3] != 4 {
		t.Errorf("Crops not stacked in order: %v", stacked.Data)
	}

	if len(embs) != 2 || len(embs[0]) != 3 {
		t.Fatalf("Expected 2x3 embeddings, got %v", embs)
	}
	if embs[0][2] != -0.5 || embs[1][2] != 3 {
		t.Errorf("Unexpected embeddings %v", embs)
	}
}

func TestEmbed_WrongBatchSize(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(2))
	binary.Write(payload, binary.BigEndian, uint32(1))
	binary.Write(payload, binary.BigEndian, []float32{1, 2})

	w, _ := newMockWorker(payload.Bytes())
	_, err := w.Embed(context.Background(), []types.Tensor{{Shape: []int{1}, Data: []float32{1}}})
	if err == nil {
		t.Fatal("Expected error when the engine returns more embeddings than crops")
	}
}

func TestStack(t *testing.T) {
	tests := []struct {
		name    string
		batch   []types.Tensor
		wantErr bool
	}{
		{name: "Empty batch", batch: nil, wantErr: true},
		{
			name: "Mismatched shapes",
			batch: []types.Tensor{
				{Shape: []int{2}, Data: []float32{1, 2}},
				{Shape: []int{3}, Data: []float32{1, 2, 3}},
			},
			wantErr: true,
		},
		{
			name:    "Data does not fill shape",
			batch:   []types.Tensor{{Shape: []int{2, 2}, Data: []float32{1, 2, 3}}},
			wantErr: true,
		},
		{
			name:    "NaN value",
			batch:   []types.Tensor{{Shape: []int{1}, Data: []float32{float32(math.NaN())}}},
			wantErr: true,
		},
		{
			name:  "Valid",
			batch: []types.Tensor{{Shape: []int{1, 2}, Data: []float32{1, 2}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stack(tt.batch)
			if (err != nil) != tt.wantErr {
				t.Fatalf("stack() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (len(got.Shape) != 3 || got.Shape[0] != 1) {
				t.Errorf("Expected a leading batch dimension, got %v", got.Shape)
			}
		})
	}
}

func TestReadTensor_RejectsOversizedShape(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(2))
	binary.Write(buf, binary.BigEndian, []uint32{1000, 1000})
	binary.Write(buf, binary.BigEndian, []float32{1, 2})

	if _, err := readTensor(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatal("Expected error for a shape larger than the payload")
	}
}

func TestReadTensor_RejectsOverflowingShape(t *testing.T) {
	// 2^31 * 2^31 * 4 wraps to 0 in 64-bit arithmetic
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(3))
	binary.Write(buf, binary.BigEndian, []uint32{1 << 31, 1 << 31, 4})
	binary.Write(buf, binary.BigEndian, []float32{1, 2})

	if _, err := readTensor(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatal("Expected error for a shape whose element count overflows")
	}
}

func TestReadTensor_EmptyDimension(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(2))
	binary.Write(buf, binary.BigEndian, []uint32{0, 1 << 31})

	tensor, err := readTensor(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readTensor failed: %v", err)
	}
	if len(tensor.Data) != 0 {
		t.Errorf("Expected no data, got %d values", len(tensor.Data))
	}
}

func TestDetect_RejectsHugeFaceCount(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(math.MaxUint32))
	binary.Write(payload, binary.BigEndian, [4]float32{10, 12, 50, 64})
	binary.Write(payload, binary.BigEndian, float32(0.97))

	w, _ := newMockWorker(payload.Bytes())
	if _, err := w.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8))); err == nil {
		t.Fatal("Expected error for a face count larger than the payload")
	}
}

func TestEmbed_RejectsHugeDimension(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(1))
	binary.Write(payload, binary.BigEndian, uint32(math.MaxUint32))
	binary.Write(payload, binary.BigEndian, []float32{1, 2})

	w, _ := newMockWorker(payload.Bytes())
	crop := types.Tensor{Shape: []int{2}, Data: []float32{1, 2}}
	if _, err := w.Embed(context.Background(), []types.Tensor{crop}); err == nil {
		t.Fatal("Expected error for an embedding size larger than the payload")
	}
}
