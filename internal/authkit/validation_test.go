package authkit

import "testing"

func TestIsComplexPassword(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		password string
		expected bool
	}{
		{password: "Passw0rd!", expected: true},
		{password: "Aa1@aaaa", expected: true},
		{password: "Aa1@aaa", expected: false},
		{password: "password1!", expected: false},
		{password: "PASSWORD1!", expected: false},
		{password: "Password!!", expected: false},
		{password: "Password11", expected: false},
		{password: "Passw0rd#", expected: false},
		{password: "Passw0rd! ", expected: false},
		{password: "Pässw0rd!", expected: false},
	}

	for _, testCase := range testCases {
		if actual := isComplexPassword(testCase.password); actual != testCase.expected {
			t.Fatalf("isComplexPassword(%q) = %v, expected %v", testCase.password, actual, testCase.expected)
		}
	}
}
