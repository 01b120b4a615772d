package layout

import (
	"path"
	"regexp"
	"strings"

	"github.com/ruteri/artifact-resolver/interfaces"
)

// Maven2Name is the name of the Maven 2 repository layout.
const Maven2Name = "maven2"

// MetadataPrefix starts the file name of every metadata descriptor, including
// its checksum and signature siblings.
const MetadataPrefix = "maven-metadata."

// snapshotFileVersion matches the timestamp and build number that replace
// "SNAPSHOT" in the file names of deployed snapshots.
var snapshotFileVersion = regexp.MustCompile(`^[0-9]{8}\.[0-9]{6}-[0-9]+`)

// fileShaped matches last segments that name a file rather than a version,
// e.g. "bar.jar" or "bar.jar.sha1". Versions start with a digit or carry no
// lowercase extension.
var fileShaped = regexp.MustCompile(`^[^0-9].*\.[a-z]+[0-9]*$`)

// Maven2 implements the Maven 2 layout:
//
//	com/example/foo/1.0/foo-1.0-sources.jar
//	 namespace  name ver  name-ver-classifier.extension
type Maven2 struct{}

// Name returns "maven2".
func (Maven2) Name() string {
	return Maven2Name
}

// Parse converts an artifact file path to its coordinate.
func (Maven2) Parse(p string) (interfaces.ArtifactCoordinate, error) {
	segments, err := splitPath(p)
	if err != nil {
		return interfaces.ArtifactCoordinate{}, err
	}

	n := len(segments)
	if n < 4 {
		return interfaces.ArtifactCoordinate{}, parseError(p, "expected namespace/name/version/file")
	}

	file := segments[n-1]
	dirVersion := segments[n-2]
	name := segments[n-3]

	rest, version, ok := trimFileVersion(file, name, dirVersion)
	if !ok {
		return interfaces.ArtifactCoordinate{}, parseError(p, "file name does not start with "+name+"-"+dirVersion)
	}

	classifier, extension, err := splitQualifiers(p, rest)
	if err != nil {
		return interfaces.ArtifactCoordinate{}, err
	}

	return interfaces.ArtifactCoordinate{
		Namespace:  strings.Join(segments[:n-3], "."),
		Name:       name,
		Version:    version,
		Classifier: classifier,
		Extension:  extension,
	}, nil
}

// ParseDirectory converts a namespace/name/version directory path to a prefix.
// A path whose last segment looks like a file name is rejected so malformed
// artifact paths are never widened into directories.
func (Maven2) ParseDirectory(p string) (interfaces.CoordinatePrefix, error) {
	segments, err := splitPath(strings.TrimSuffix(p, "/"))
	if err != nil {
		return interfaces.CoordinatePrefix{}, err
	}

	n := len(segments)
	if n < 3 {
		return interfaces.CoordinatePrefix{}, parseError(p, "expected namespace/name/version")
	}
	if fileShaped.MatchString(segments[n-1]) {
		return interfaces.CoordinatePrefix{}, parseError(p, "last segment "+segments[n-1]+" is a file name, not a version")
	}

	return interfaces.CoordinatePrefix{
		Namespace: strings.Join(segments[:n-2], "."),
		Name:      segments[n-2],
		Version:   segments[n-1],
	}, nil
}

// Format returns the canonical path of c. Coordinates that could not be
// parsed back unchanged are rejected.
func (Maven2) Format(c interfaces.ArtifactCoordinate) (string, error) {
	display := c.String()

	if c.Namespace == "" || c.Name == "" || c.Version == "" || c.Extension == "" {
		return "", parseError(display, "namespace, name, version and extension are required")
	}

	namespace := strings.Split(c.Namespace, ".")
	for _, s := range append(namespace, c.Name, c.Version) {
		if err := checkSegment(display, s); err != nil {
			return "", err
		}
	}

	if strings.ContainsAny(c.Classifier, "./") {
		return "", parseError(display, "classifier must not contain '.' or '/'")
	}
	if strings.Contains(c.Extension, "/") {
		return "", parseError(display, "extension must not contain '/'")
	}

	file := c.Name + "-" + c.Version
	if c.Classifier != "" {
		file += "-" + c.Classifier
	}
	file += "." + c.Extension
	if err := checkSegment(display, file); err != nil {
		return "", err
	}

	return path.Join(append(namespace, c.Name, c.BaseVersion(), file)...), nil
}

// IsMetadataPath reports whether the file name starts with "maven-metadata.".
func (Maven2) IsMetadataPath(p string) bool {
	return strings.HasPrefix(path.Base(p), MetadataPrefix)
}

// trimFileVersion strips "name-version" from the file name. Inside a
// -SNAPSHOT directory the file may carry a timestamped version instead, which
// is returned as the coordinate version.
func trimFileVersion(file, name, dirVersion string) (rest, version string, ok bool) {
	prefix := name + "-" + dirVersion
	if strings.HasPrefix(file, prefix) {
		return file[len(prefix):], dirVersion, true
	}

	if !strings.HasSuffix(dirVersion, "-"+interfaces.SnapshotSuffix) {
		return "", "", false
	}

	release := strings.TrimSuffix(dirVersion, interfaces.SnapshotSuffix)
	prefix = name + "-" + release
	if !strings.HasPrefix(file, prefix) {
		return "", "", false
	}

	stamp := snapshotFileVersion.FindString(file[len(prefix):])
	if stamp == "" {
		return "", "", false
	}
	return file[len(prefix)+len(stamp):], release + stamp, true
}

// splitQualifiers splits "-classifier.ext" or ".ext".
func splitQualifiers(p, rest string) (classifier, extension string, err error) {
	switch {
	case strings.HasPrefix(rest, "."):
		extension = rest[1:]
	case strings.HasPrefix(rest, "-"):
		dot := strings.Index(rest, ".")
		if dot < 0 {
			return "", "", parseError(p, "missing extension")
		}
		classifier = rest[1:dot]
		extension = rest[dot+1:]
		if classifier == "" {
			return "", "", parseError(p, "empty classifier")
		}
	default:
		return "", "", parseError(p, "missing extension")
	}

	if extension == "" {
		return "", "", parseError(p, "missing extension")
	}
	return classifier, extension, nil
}

func splitPath(p string) ([]string, error) {
	trimmed := strings.TrimPrefix(p, "/")
	if trimmed == "" {
		return nil, parseError(p, "empty path")
	}

	segments := strings.Split(trimmed, "/")
	for _, s := range segments {
		if err := checkSegment(p, s); err != nil {
			return nil, err
		}
	}
	return segments, nil
}

// checkSegment rejects empty, relative and hidden segments so a path can
// never escape its repository or reach a resolver's private directories.
func checkSegment(p, s string) error {
	switch {
	case s == "":
		return parseError(p, "empty path segment")
	case strings.HasPrefix(s, "."):
		return parseError(p, "path segment "+s+" starts with '.'")
	case strings.ContainsAny(s, "/\\\x00"):
		return parseError(p, "path segment contains an illegal character")
	}
	return nil
}

func parseError(p, reason string) error {
	return &interfaces.ParseError{Path: p, Reason: reason}
}
