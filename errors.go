package heaputils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// HeapNotFoundError is the error returned from Registry.Heap when no heap has been registered under the provided name
var HeapNotFoundError error = errors.New("no heap has been registered under the provided name")
