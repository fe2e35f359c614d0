package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "scan not found"}
		s.Equal("scan not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeNotFound}
		s.Equal("not_found", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	s.Run("returns wrapped error", func() {
		inner := errors.New("relay connection refused")
		err := &Error{Code: CodeUnavailable, Message: "relay unavailable", Err: inner}
		s.Equal(inner, err.Unwrap())
	})

	s.Run("returns nil when no wrapped error", func() {
		err := &Error{Code: CodeNotFound, Message: "not found"}
		s.Nil(err.Unwrap())
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeConflict, Message: "scan in progress"}
		err2 := &Error{Code: CodeConflict, Message: "other"}
		s.True(err1.Is(err2))
	})

	s.Run("does not match different codes", func() {
		s.False((&Error{Code: CodeNotFound}).Is(&Error{Code: CodeInternal}))
	})

	s.Run("does not match non-domain errors", func() {
		s.False((&Error{Code: CodeNotFound}).Is(errors.New("not found")))
	})

	s.Run("works with errors.Is through chain", func() {
		inner := &Error{Code: CodeNotFound, Message: "original"}
		wrapped := fmt.Errorf("lookup: %w", inner)
		s.True(errors.Is(wrapped, &Error{Code: CodeNotFound}))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves code of wrapped domain error", func() {
		inner := New(CodeScanFailed, "negotiation failed")
		err := Wrap(inner, CodeInternal, "scan aborted")
		s.True(HasCode(err, CodeScanFailed))
		s.Equal("scan aborted", err.Error())
	})

	s.Run("applies code to plain errors", func() {
		err := Wrap(errors.New("dial tcp: refused"), CodeUnavailable, "relay unavailable")
		s.True(HasCode(err, CodeUnavailable))
	})
}
