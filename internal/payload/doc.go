// Package payload produces the timestamped text line every broadcaster delivers.
package payload
