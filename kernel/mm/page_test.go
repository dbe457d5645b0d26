package mm

import "testing"

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint32(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := frameIndex<<PageShift, frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uint32
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestPageIndices(t *testing.T) {
	specs := []struct {
		input    uint32
		expPage  Page
		expDir   uint32
		expTable uint32
	}{
		{0, Page(0), 0, 0},
		{4095, Page(0), 0, 0},
		{0x00401000, Page(0x401), 1, 1},
		{0x04000000, Page(0x4000), 16, 0},
		{0xfffff123, Page(0xfffff), 1023, 1023},
	}

	for specIndex, spec := range specs {
		page := PageFromAddress(spec.input)
		if page != spec.expPage {
			t.Errorf("[spec %d] expected page %#x; got %#x", specIndex, spec.expPage, page)
		}

		if got := page.DirIndex(); got != spec.expDir {
			t.Errorf("[spec %d] expected directory index %d; got %d", specIndex, spec.expDir, got)
		}

		if got := page.TableIndex(); got != spec.expTable {
			t.Errorf("[spec %d] expected table index %d; got %d", specIndex, spec.expTable, got)
		}

		if got := page.Address(); got != spec.input&^(PageSize-1) {
			t.Errorf("[spec %d] expected page address %#x; got %#x", specIndex, spec.input&^(PageSize-1), got)
		}
	}
}

func TestPhysicalMemory(t *testing.T) {
	mem := NewPhysicalMemory(4*PageSize + 100)

	if got := mem.Size(); got != 4*PageSize {
		t.Fatalf("expected size to be rounded down to %d; got %d", 4*PageSize, got)
	}

	if got := mem.Frames(); got != 4 {
		t.Fatalf("expected 4 frames; got %d", got)
	}

	mem.WriteWord(PageSize+8, 0xdeadbeef)
	if got := mem.ReadWord(PageSize + 8); got != 0xdeadbeef {
		t.Fatalf("expected to read back 0xdeadbeef; got %#x", got)
	}

	frame := mem.FrameBytes(Frame(1))
	if frame[8] != 0xef || frame[11] != 0xde {
		t.Fatal("expected words to be stored in little-endian order")
	}

	if _, err := mem.Bytes(3*PageSize, PageSize); err != nil {
		t.Fatal(err)
	}

	if _, err := mem.Bytes(3*PageSize, PageSize+1); err != ErrAddressOutOfRange {
		t.Fatalf("expected ErrAddressOutOfRange; got %v", err)
	}
}
