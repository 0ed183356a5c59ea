package ledger

import "errors"

var (
	ErrAmountNotPositive  = errors.New("ledger: amount must be positive")
	ErrInsufficientCredit = errors.New("ledger: insufficient credit balance")
	ErrPurchaserNotFound  = errors.New("ledger: purchaser not found")
	ErrConversionAborted  = errors.New("ledger: conversion aborted")
	ErrInvalidTiers       = errors.New("ledger: invalid tier table")
	ErrInvalidRates       = errors.New("ledger: invalid referral rates")
)
