package main

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// rejected reports whether the server refused the order rather than failing.
func rejected(err error) bool {
	switch status.Code(err) {
	case codes.FailedPrecondition, codes.InvalidArgument, codes.Aborted, codes.NotFound:
		return true
	}
	return false
}
