package utils

import "fmt"

func GetSegmentFileName(id int) string {
	return fmt.Sprintf("%010d.data", id)
}

func GetHintFileName(id int) string {
	return fmt.Sprintf("%010d.hint", id)
}
