package kmain

import (
	"bytes"
	"i386vm/kernel"
	"i386vm/kernel/blk"
	"i386vm/kernel/config"
	"i386vm/kernel/cpu"
	"i386vm/kernel/fs"
	"i386vm/kernel/kfmt"
	"i386vm/kernel/mm"
	"i386vm/kernel/mm/swap"
	"i386vm/kernel/mm/vmm"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	fileDev = 0x301
	swapDev = 0x302
)

// testConfig returns a 2MB configuration with a file device and a swap
// device whose images are written to a temporary directory.
func testConfig(t *testing.T) (config.MemoryConfig, []byte) {
	t.Helper()
	dir := t.TempDir()

	image := make([]byte, 64*blk.BlockSize)
	for i := range image {
		image[i] = byte(i*3 + i>>10)
	}
	imagePath := filepath.Join(dir, "file.img")
	if err := os.WriteFile(imagePath, image, 0644); err != nil {
		t.Fatal(err)
	}

	swapDisk := blk.NewRAMDisk(400)
	reg := blk.NewRegistry()
	reg.Register(swapDev, swapDisk)
	if err := swap.Format(blk.PageDevice{Registry: reg, Dev: swapDev}); err != nil {
		t.Fatal(err)
	}
	swapPath := filepath.Join(dir, "swap.img")
	if err := os.WriteFile(swapPath, swapDisk.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.HighMemory = 2 * uint32(mm.Mb)
	cfg.SwapDevice = swapDev
	cfg.Devices = []config.DeviceConfig{
		{Dev: fileDev, Blocks: 64, Image: imagePath},
		{Dev: swapDev, Blocks: 400, Image: swapPath},
	}

	return cfg, image
}

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() {
		kfmt.SetOutputSink(nil)
		cpu.Reset()
	})
	return &buf
}

func TestBoot(t *testing.T) {
	log := captureLog(t)
	cfg, _ := testConfig(t)

	sys, err := Boot(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if got := sys.Frames.FreeCount(); got != 256 {
		t.Fatalf("expected 256 free frames; got %d", got)
	}
	if !sys.Swap.Enabled() {
		t.Fatalf("expected swapping to be enabled; log: %q", log.String())
	}
	if cpu.ActivePDT() != 0 {
		t.Fatalf("expected the page directory at 0; got %#x", cpu.ActivePDT())
	}

	for _, addr := range []uint32{0, 0x1234, 0x9ffff, 0xfffff} {
		got, err := sys.VM.Translate(addr)
		if err != nil || got != addr {
			t.Errorf("expected %#x to be identity mapped; got %#x, %v", addr, got, err)
		}
	}
	if _, err = sys.VM.Translate(1 << 20); err != vmm.ErrInvalidMapping {
		t.Fatalf("expected memory above low memory to be unmapped; got %v", err)
	}

	if cur := sys.Tasks.Current(); cur == nil || cur.Nr != 0 {
		t.Fatal("expected task 0 to be running")
	}

	for _, line := range []string{"Free mem: 1048576 bytes", "Swap device ok"} {
		if !strings.Contains(log.String(), line) {
			t.Errorf("expected log to contain %q; got %q", line, log.String())
		}
	}
}

func TestBootErrors(t *testing.T) {
	captureLog(t)

	badLayout := config.Default()
	badLayout.TaskSize = 3 << 20

	missingImage := config.Default()
	missingImage.Devices = []config.DeviceConfig{{Dev: fileDev, Blocks: 8, Image: filepath.Join(t.TempDir(), "missing.img")}}

	specs := []struct {
		cfg    config.MemoryConfig
		expErr *kernel.Error
	}{
		{badLayout, errBadConfig},
		{missingImage, errDeviceLoad},
	}

	for specIndex, spec := range specs {
		if _, err := Boot(spec.cfg); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestBootWithoutSwapSignature(t *testing.T) {
	log := captureLog(t)

	cfg := config.Default()
	cfg.HighMemory = 2 * uint32(mm.Mb)
	cfg.SwapDevice = swapDev
	cfg.Devices = []config.DeviceConfig{{Dev: swapDev, Blocks: 400}}

	sys, err := Boot(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sys.Swap.Enabled() {
		t.Fatal("expected swapping to stay disabled")
	}
	if !strings.Contains(log.String(), "Unable to find swap-space signature") {
		t.Fatalf("expected a signature message; got %q", log.String())
	}
}

func TestForkExecExit(t *testing.T) {
	captureLog(t)
	cfg, image := testConfig(t)

	sys, err := Boot(cfg)
	if err != nil {
		t.Fatal(err)
	}
	free := sys.Frames.FreeCount()

	initTask, err := sys.Fork(sys.Tasks.Current())
	if err != nil {
		t.Fatal(err)
	}
	if initTask.Nr != 1 || initTask.StartCode != cfg.TaskSize {
		t.Fatalf("expected the first child in slot 1; got slot %d at %#x", initTask.Nr, initTask.StartCode)
	}

	// The child sees task 0's low memory.
	if got := sys.VM.Lookup(initTask.StartCode + 0x1000); got.Kind != vmm.Resident || got.Frame != 1 {
		t.Fatalf("expected the child to share low memory; got %+v", got)
	}

	exe := fs.NewFlatInode(fileDev, 0, 64)
	if err = sys.VM.Exec(initTask, vmm.ExecImage{Inode: exe, EndCode: 0x4000, EndData: 0x8000, Brk: 0x8000}, []byte("init")); err != nil {
		t.Fatal(err)
	}
	sys.Tasks.SetCurrent(initTask)

	buf := make([]byte, 16)
	if err = sys.VM.ReadUser(0x2000, buf); err != nil {
		t.Fatal(err)
	}
	// File block 1+8 of the image.
	if exp := image[9*blk.BlockSize : 9*blk.BlockSize+16]; !bytes.Equal(buf, exp) {
		t.Fatalf("expected %x; got %x", exp, buf)
	}
	if err = sys.VM.WriteUser(0x7000, []byte{0xab}); err != nil {
		t.Fatal(err)
	}

	child, err := sys.Fork(initTask)
	if err != nil {
		t.Fatal(err)
	}
	if exe.Count() != 2 {
		t.Fatalf("expected the child to hold a reference to the executable; got %d", exe.Count())
	}

	sys.Tasks.SetCurrent(child)
	if err = sys.VM.WriteUser(0x7000, []byte{0xcd}); err != nil {
		t.Fatal(err)
	}

	sys.Tasks.SetCurrent(initTask)
	if err = sys.VM.ReadUser(0x7000, buf[:1]); err != nil || buf[0] != 0xab {
		t.Fatalf("expected the parent to keep its copy; got %#x, %v", buf[0], err)
	}

	sys.Exit(child)
	sys.Exit(initTask)

	if got := sys.Frames.FreeCount(); got != free {
		t.Fatalf("expected all frames to be released; %d free, was %d", got, free)
	}
	if exe.Count() != 0 {
		t.Fatalf("expected the executable to be released; got %d references", exe.Count())
	}
	if sys.Tasks.Get(1) != nil || sys.Tasks.Current() != sys.Tasks.Get(0) {
		t.Fatal("expected the slots to be freed and task 0 to run")
	}
}
