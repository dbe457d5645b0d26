package vmm

import (
	"i386vm/kernel"
	"i386vm/kernel/fs"
	"i386vm/kernel/mm"
	"i386vm/kernel/task"
)

var (
	// ErrArgsTooLong is returned by Exec when the argument block does not
	// fit below the library region.
	ErrArgsTooLong = &kernel.Error{Module: "vmm", Message: "argument block too long"}
)

// maxArgPages is the largest argument block Exec accepts, in pages.
const maxArgPages = 32

// ExecImage describes the layout of an executable loaded by Exec.
type ExecImage struct {
	Inode   fs.Inode
	EndCode uint32
	EndData uint32
	Brk     uint32
}

// Exec replaces t's address space with img. The previous window is
// released and args is copied into dirty pages placed right below the
// library region, where the stack starts. Text and data are demand-paged
// from img.Inode on first access. Exec takes ownership of the caller's
// reference to img.Inode.
func (m *Manager) Exec(t *task.Task, img ExecImage, args []byte) *kernel.Error {
	argPages := (uint32(len(args)) + mm.PageSize - 1) >> mm.PageShift
	if argPages > maxArgPages {
		return ErrArgsTooLong
	}

	m.UnmapRange(t.StartCode, m.layout.TaskSize)

	if t.Executable != nil {
		t.Executable.Put()
	}
	if t.Library != nil {
		t.Library.Put()
		t.Library = nil
	}

	t.Executable = img.Inode
	t.EndCode = img.EndCode
	t.EndData = img.EndData
	t.Brk = img.Brk
	t.StartStack = m.layout.LibraryOffset - argPages<<mm.PageShift

	for i := uint32(0); i < argPages; i++ {
		frame, err := m.frames.Alloc()
		if err != nil {
			return err
		}

		chunk := args[i<<mm.PageShift:]
		if uint32(len(chunk)) > mm.PageSize {
			chunk = chunk[:mm.PageSize]
		}
		kernel.Memcopy(chunk, m.mem.FrameBytes(frame))

		if _, err = m.PutDirtyPage(frame, t.StartCode+t.StartStack+i<<mm.PageShift); err != nil {
			m.frames.Free(frame)
			return err
		}
	}

	return nil
}

// UseLib replaces the shared library of t. The library region is released
// and will be demand-paged from lib. UseLib takes ownership of the
// caller's reference to lib; a nil lib just drops the current library.
func (m *Manager) UseLib(t *task.Task, lib fs.Inode) {
	m.UnmapRange(t.StartCode+m.layout.LibraryOffset, m.layout.LibrarySize())

	if t.Library != nil {
		t.Library.Put()
	}
	t.Library = lib
}

// Release tears down the address space of a terminated task.
func (m *Manager) Release(t *task.Task) {
	if t.Nr == 0 {
		return
	}
	m.UnmapRange(t.StartCode, m.layout.TaskSize)
}
