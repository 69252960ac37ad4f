package gmatch

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/clarete/gmatch/toktrie"
)

// MaskRequest asks for the mask of Matcher to be written in row
// Index of the destination buffer
type MaskRequest struct {
	Matcher *Matcher
	Index   int
}

// ComputeMasks computes the masks of many matchers in parallel.
// `dst` holds rows of `oneMaskBytes` bytes each, one mask per row.
// Requests are checked before anything is written: rows and matchers
// can't show up twice and rows must be within `dst`.  A matcher that
// fails gets the end of sequence only mask in its row, and its error
// is joined to the returned one without stopping the others.
func (f *Factory) ComputeMasks(dst []byte, oneMaskBytes int, reqs []MaskRequest) error {
	if len(dst) == 0 {
		return ErrNullDestination
	}
	if uintptr(unsafe.Pointer(&dst[0]))%unsafe.Alignof(uint32(0)) != 0 {
		return ErrMisaligned
	}
	if oneMaskBytes != f.MaskByteLen() || len(dst)%oneMaskBytes != 0 {
		return fmt.Errorf("%w: %d bytes in total, %d per mask, %d expected per mask",
			ErrInvalidBufferSize, len(dst), oneMaskBytes, f.MaskByteLen())
	}
	if err := f.checkRequests(len(dst)/oneMaskBytes, reqs); err != nil {
		return err
	}
	return f.run(reqs, func(i int, mask toktrie.Bitmask) {
		row := reqs[i].Index * oneMaskBytes
		mask.PutBytes(dst[row : row+oneMaskBytes])
	})
}

// ComputeMasksRows is ComputeMasks over one slice of words per row
func (f *Factory) ComputeMasksRows(dst [][]uint32, reqs []MaskRequest) error {
	if len(dst) == 0 {
		return ErrNullDestination
	}
	words := toktrie.WordsFor(f.VocabSize())
	for i, row := range dst {
		if row == nil {
			return fmt.Errorf("%w: row %d", ErrNullDestination, i)
		}
		if len(row) != words {
			return fmt.Errorf("%w: row %d has %d words, %d expected", ErrInvalidBufferSize, i, len(row), words)
		}
	}
	if err := f.checkRequests(len(dst), reqs); err != nil {
		return err
	}
	return f.run(reqs, func(i int, mask toktrie.Bitmask) {
		copy(dst[reqs[i].Index], mask)
	})
}

func (f *Factory) checkRequests(rows int, reqs []MaskRequest) error {
	if len(reqs) == 0 {
		return ErrNoMatchers
	}
	usedRows := make(map[int]int, len(reqs))
	usedMatchers := make(map[*Matcher]int, len(reqs))
	for i, r := range reqs {
		if r.Matcher == nil {
			return fmt.Errorf("%w: request %d has no matcher", ErrNoMatchers, i)
		}
		if r.Index < 0 || r.Index >= rows {
			return fmt.Errorf("%w: request %d targets row %d of %d", ErrIndexOutOfBounds, i, r.Index, rows)
		}
		if j, ok := usedRows[r.Index]; ok {
			return fmt.Errorf("%w: row %d is used by requests %d and %d", ErrAlreadyBorrowed, r.Index, j, i)
		}
		if j, ok := usedMatchers[r.Matcher]; ok {
			return fmt.Errorf("%w: matcher is used by requests %d and %d", ErrAlreadyBorrowed, j, i)
		}
		usedRows[r.Index] = i
		usedMatchers[r.Matcher] = i
	}
	return nil
}

// run computes the mask of every request on the worker pool and
// hands it to `write`; every request writes to its own row
func (f *Factory) run(reqs []MaskRequest, write func(i int, mask toktrie.Bitmask)) error {
	var (
		g    errgroup.Group
		errs = make([]error, len(reqs))
	)
	g.SetLimit(f.threads)
	for i := range reqs {
		g.Go(func() error {
			// on failure the mask only allows the end of sequence
			mask, err := reqs[i].Matcher.ComputeMask()
			if err != nil {
				errs[i] = fmt.Errorf("request %d: %w", i, err)
			}
			write(i, mask)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
