package arena

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

type mappedFile struct {
	file *os.File
	m    mmap.MMap
}

// NewMapped creates (or truncates) path and maps it read-write as the
// backing store of a growable buffer. Close truncates the file to the
// committed size, so the file can be reopened with OpenMapped.
func NewMapped(path string, capacity int) (*Buffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create arena file: %w", err)
	}
	size := max(PaddedLen(capacity), Alignment)
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size arena file: %w", err)
	}
	m, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap arena file: %w", err)
	}
	return &Buffer{
		data:     m,
		growable: true,
		mapped:   &mappedFile{file: f, m: m},
	}, nil
}

// OpenMapped maps an arena file written by a mapped buffer for reading.
func OpenMapped(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open arena file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat arena file: %w", err)
	}
	if info.Size()%Alignment != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: file size %d is not a multiple of %d", ErrInvalidItem, info.Size(), Alignment)
	}
	b := &Buffer{readOnly: true, mapped: &mappedFile{file: f}}
	if info.Size() == 0 {
		return b, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap arena file: %w", err)
	}
	b.mapped.m = m
	b.data = m
	b.written = len(m)
	b.committed = len(m)
	return b, nil
}

// Flush writes committed bytes of a mapped buffer back to its file.
func (b *Buffer) Flush() error {
	if b.mapped == nil || b.mapped.m == nil || b.readOnly {
		return nil
	}
	return b.mapped.m.Flush()
}

func (b *Buffer) growMapped(newCap int) error {
	mf := b.mapped
	if err := mf.m.Flush(); err != nil {
		return fmt.Errorf("failed to flush arena: %w", err)
	}
	if err := mf.m.Unmap(); err != nil {
		return fmt.Errorf("failed to unmap arena: %w", err)
	}
	b.data = nil
	if err := mf.file.Truncate(int64(newCap)); err != nil {
		return fmt.Errorf("failed to grow arena file: %w", err)
	}
	m, err := mmap.MapRegion(mf.file, newCap, mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to remap arena: %w", err)
	}
	mf.m = m
	b.data = m
	return nil
}

func (b *Buffer) closeMapped() error {
	mf := b.mapped
	b.mapped = nil
	var firstErr error
	if mf.m != nil {
		if !b.readOnly {
			if err := mf.m.Flush(); err != nil {
				firstErr = err
			}
		}
		if err := mf.m.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if !b.readOnly {
		if err := mf.file.Truncate(int64(b.committed)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := mf.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.data = nil
	b.written, b.committed = 0, 0
	return firstErr
}
