// Package gsm converts between Go strings and the GSM 03.38 default
// alphabet, either packed seven bits per character or one byte per
// character.
package gsm
