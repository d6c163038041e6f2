package policy

import "errors"

var (
	ErrDuplicateName       = errors.New("policy: duplicate name")
	ErrNotFound            = errors.New("policy: not found")
	ErrInvalidPolicy       = errors.New("policy: invalid definition")
	ErrConditionEvaluation = errors.New("policy: condition evaluation failed")
	ErrActionDispatch      = errors.New("policy: action dispatch failed")
)
