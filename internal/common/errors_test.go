package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPStatusAndGRPCCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		http int
		grpc codes.Code
	}{
		{"nil", nil, http.StatusOK, codes.OK},
		{"invalid", InvalidInputError("bad file"), http.StatusBadRequest, codes.InvalidArgument},
		{"not found", NotFoundError("parse not found"), http.StatusNotFound, codes.NotFound},
		{"wrapped run", fmt.Errorf("retry: %w", ErrRunInProgress), http.StatusConflict, codes.FailedPrecondition},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.http {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.http)
			}
			if got := GRPCCode(tt.err); got != tt.grpc {
				t.Errorf("GRPCCode = %v, want %v", got, tt.grpc)
			}
		})
	}
}

func TestGRPCErrorKeepsPublicMessage(t *testing.T) {
	err := GRPCError(NotFoundError("parse not found"))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.NotFound || st.Message() != "parse not found" {
		t.Fatalf("status = %v", st)
	}
	if GRPCError(err) != err {
		t.Error("status errors should pass through unchanged")
	}
	if PublicMessage(errors.New("db password leaked")) != "internal error" {
		t.Error("internal errors must not leak their text")
	}
}
