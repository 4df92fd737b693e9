package usart

import (
	"context"
	"io"

	"tinygo.org/x/drivers"

	"usarthal-go/errcode"
	"usarthal-go/types"
)

var (
	_ drivers.UART  = (*SerialPort)(nil)
	_ io.ByteReader = (*SerialPort)(nil)
	_ io.ByteWriter = (*SerialPort)(nil)
)

// Read blocks until at least one byte is available or the read timeout
// passes, then returns what is buffered.
func (p *SerialPort) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.readTimeout)
	defer cancel()
	for {
		n, err := p.TryRead(b)
		if n > 0 || err != nil {
			return n, err
		}
		if _, err := p.waitEvent(ctx, types.EventReadable); err != nil {
			return 0, ctxErr(err)
		}
	}
}

// Write queues all of b, waiting for room up to the write timeout.
func (p *SerialPort) Write(b []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	return p.WriteAll(ctx, b)
}

// WriteAll loops TryWrite until b is queued or ctx ends. It returns the
// number queued.
func (p *SerialPort) WriteAll(ctx context.Context, b []byte) (int, error) {
	done := 0
	for done < len(b) {
		n, err := p.TryWrite(b[done:])
		done += n
		if err != nil {
			return done, err
		}
		if done == len(b) {
			break
		}
		if _, err := p.waitEvent(ctx, types.EventWritable); err != nil {
			return done, ctxErr(err)
		}
	}
	return done, nil
}

// ReadAll fills b or stops when ctx ends.
func (p *SerialPort) ReadAll(ctx context.Context, b []byte) (int, error) {
	done := 0
	for done < len(b) {
		n, err := p.TryRead(b[done:])
		done += n
		if err != nil {
			return done, err
		}
		if done == len(b) {
			break
		}
		if _, err := p.waitEvent(ctx, types.EventReadable); err != nil {
			return done, ctxErr(err)
		}
	}
	return done, nil
}

func (p *SerialPort) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := p.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *SerialPort) WriteByte(c byte) error {
	_, err := p.Write([]byte{c})
	return err
}

func ctxErr(err error) error {
	if err == context.DeadlineExceeded {
		return errcode.Timeout
	}
	return err
}
