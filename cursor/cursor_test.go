package cursor

import "testing"

func TestInitialState(t *testing.T) {
	p := New(16, 4)
	if got := p.NToRead(); got != 16 {
		t.Errorf("NToRead() = %d, want 16", got)
	}
	if got := p.NToWrite(); got != 0 {
		t.Errorf("NToWrite() = %d, want 0", got)
	}
	if !p.Done() {
		t.Error("expected Done() on fresh pair")
	}
}

func TestAdvanceWriteWithinPage(t *testing.T) {
	p := New(16, 4)
	c, err := p.AdvanceWrite(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Happened {
		t.Error("did not expect a page crossing")
	}
	if p.Write.Off != 5 {
		t.Errorf("Write.Off = %d, want 5", p.Write.Off)
	}
	if got := p.NToRead(); got != 11 {
		t.Errorf("NToRead() = %d, want 11", got)
	}
	if got := p.NToWrite(); got != 5 {
		t.Errorf("NToWrite() = %d, want 5", got)
	}
}

func TestAdvanceWriteCrossesPage(t *testing.T) {
	p := New(16, 4)
	if _, err := p.AdvanceWrite(16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Write.Idx != 1 || p.Write.Off != 0 {
		t.Errorf("Write = %+v, want {1 0}", p.Write)
	}

	c, err := p.AdvanceWrite(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Happened || c.OldIdx != 1 || c.NewIdx != 2 {
		t.Errorf("crossing = %+v", c)
	}
	if c.SkipUnpin {
		t.Error("write cursor is ahead of read cursor; should not skip unpin")
	}
}

func TestAdvanceWriteSkipsUnpinWhenSharingPage(t *testing.T) {
	p := New(16, 4)
	// Write and read both sit on page 0; write crosses to page 1 while
	// read is still on page 0, so page 0 must stay mapped for the reader.
	c, err := p.AdvanceWrite(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.SkipUnpin {
		t.Error("expected SkipUnpin since read cursor still references old page")
	}
}

func TestAdvanceWriteOutOfPages(t *testing.T) {
	p := New(16, 1)
	_, err := p.AdvanceWrite(16)
	if err != ErrOutOfPages {
		t.Fatalf("err = %v, want ErrOutOfPages", err)
	}
}

func TestAdvanceReadCrossesPage(t *testing.T) {
	p := New(16, 4)
	if _, err := p.AdvanceWrite(16); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AdvanceWrite(16); err != nil {
		t.Fatal(err)
	}

	c, err := p.AdvanceRead(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Happened || c.OldIdx != 0 || c.NewIdx != 1 {
		t.Errorf("crossing = %+v", c)
	}
	if p.Read.Idx != 1 || p.Read.Off != 0 {
		t.Errorf("Read = %+v, want {1 0}", p.Read)
	}
}

func TestDoneAfterFullDrain(t *testing.T) {
	p := New(16, 4)
	if _, err := p.AdvanceWrite(10); err != nil {
		t.Fatal(err)
	}
	if p.Done() {
		t.Error("should not be done while write is ahead of read")
	}
	if _, err := p.AdvanceRead(10); err != nil {
		t.Fatal(err)
	}
	if !p.Done() {
		t.Error("expected Done() once read catches up to write")
	}
}
