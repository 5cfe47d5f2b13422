package locator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Line numbers below refer to this source.
const classA = `package org.foo;                          // 1
                                           // 2
import org.junit.Test;                     // 3
                                           // 4
public class ATest {                       // 5
                                           // 6
  @Test(timeout = 4000)                    // 7
  public void test00() throws Throwable {  // 8
    int x = 1;                             // 9
  }                                        // 10
                                           // 11
  private int helperField = broken();      // 12
                                           // 13
  @Test                                    // 14
  public void testX() {                    // 15
    undefined();                           // 16
  }                                        // 17
}                                          // 18
`

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ATest.java")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLineScanner_Enclosing(t *testing.T) {
	path := writeSource(t, classA)
	l := NewLineScanner()

	tests := []struct {
		line   int
		method string
		found  bool
	}{
		{line: 3, found: false},
		{line: 7, found: false},
		{line: 8, method: "test00", found: true},
		{line: 9, method: "test00", found: true},
		{line: 12, method: "test00", found: true},
		{line: 16, method: "testX", found: true},
		{line: 500, method: "testX", found: true},
	}
	for _, tt := range tests {
		method, found, err := l.Enclosing(context.Background(), path, tt.line)
		require.NoError(t, err)
		assert.Equal(t, tt.found, found, "line %d", tt.line)
		assert.Equal(t, tt.method, method, "line %d", tt.line)
	}
}

func TestLineScanner_IgnoresNonTestDeclarations(t *testing.T) {
	path := writeSource(t, `public class ATest {
  public void setUp() {
    broken();
  }
  public void testWithArg(int x) {
    broken();
  }
}
`)
	_, found, err := NewLineScanner().Enclosing(context.Background(), path, 6)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestASTLocator_Enclosing(t *testing.T) {
	path := writeSource(t, classA)
	l := NewASTLocator()

	method, found, err := l.Enclosing(context.Background(), path, 9)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "test00", method)

	method, found, err = l.Enclosing(context.Background(), path, 16)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "testX", method)

	// Field initializer between methods belongs to no test.
	_, found, err = l.Enclosing(context.Background(), path, 12)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocators_AgreeOnNestedClass(t *testing.T) {
	path := writeSource(t, `public class ATest {
  public void test00() {}

  static class Inner {
    public void testIn() {
      undefined();
    }
  }
}
`)
	for _, name := range Names() {
		l, err := New(name)
		require.NoError(t, err)
		method, found, err := l.Enclosing(context.Background(), path, 6)
		require.NoError(t, err, name)
		assert.True(t, found, name)
		assert.Equal(t, "testIn", method, name)
	}
}

func TestLocators_MissingFile(t *testing.T) {
	for _, name := range Names() {
		l, err := New(name)
		require.NoError(t, err)
		_, _, err = l.Enclosing(context.Background(), filepath.Join(t.TempDir(), "Gone.java"), 1)
		assert.Error(t, err, name)
	}
}

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"ast", "line"}, Names())
	l, err := New("line")
	require.NoError(t, err)
	assert.Equal(t, "line", l.Name())

	_, err = New("regex")
	assert.Error(t, err)
}
