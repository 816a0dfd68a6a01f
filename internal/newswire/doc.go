// Package newswire defines core types shared across subsystems.
package newswire
